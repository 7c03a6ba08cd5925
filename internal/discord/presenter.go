package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/leaderboard"
)

// Channel types that can hold the leaderboard.
const (
	channelTypeGuildText         = 0
	channelTypeGuildAnnouncement = 5
)

// PresenterConfig configures a Presenter.
type PresenterConfig struct {
	GuildID   string
	ChannelID string
	Render    RenderOptions
}

// Presenter owns the single pinned leaderboard message.
type Presenter struct {
	client   *Client
	pointers domain.PointerStore
	cfg      PresenterConfig
	logger   *slog.Logger
}

// NewPresenter creates a Presenter. The pointer store remembers which message
// holds the leaderboard across restarts.
func NewPresenter(client *Client, pointers domain.PointerStore, cfg PresenterConfig, logger *slog.Logger) *Presenter {
	return &Presenter{
		client:   client,
		pointers: pointers,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "discord")),
	}
}

// ResolveChannel checks that the configured channel exists, is visible to
// the bot and can hold the leaderboard.
func (p *Presenter) ResolveChannel(ctx context.Context) (Channel, error) {
	ch, err := p.client.GetChannel(ctx, p.cfg.ChannelID)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return Channel{}, fmt.Errorf("%w (the bot needs View Channel, Send Messages and Embed Links)", err)
		}
		return Channel{}, err
	}
	if ch.Type != channelTypeGuildText && ch.Type != channelTypeGuildAnnouncement {
		return Channel{}, fmt.Errorf("discord: channel %s is not a text channel (type %d)", ch.ID, ch.Type)
	}
	if p.cfg.GuildID != "" && ch.GuildID != p.cfg.GuildID {
		return Channel{}, fmt.Errorf("discord: channel %s belongs to guild %s, expected %s", ch.ID, ch.GuildID, p.cfg.GuildID)
	}

	p.logger.InfoContext(ctx, "channel resolved",
		slog.String("channel", ch.Name),
		slog.String("channel_id", ch.ID),
	)
	return ch, nil
}

// Ensure returns the pointer of the live leaderboard message. A stored
// pointer is reused while its message still exists; otherwise a new message
// rendered from snap is posted, remembered and pinned. created reports
// whether a new message was posted.
func (p *Presenter) Ensure(ctx context.Context, snap leaderboard.Snapshot) (ptr domain.PresentationPointer, created bool, err error) {
	stored, err := p.pointers.Load(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "pointer load failed, creating a new message",
			slog.String("error", err.Error()),
		)
	}

	if !stored.IsZero() {
		channelID := stored.ChannelID
		if channelID == "" {
			channelID = p.cfg.ChannelID
		}
		if channelID == p.cfg.ChannelID {
			_, err := p.client.GetMessage(ctx, channelID, stored.MessageID)
			if err == nil {
				p.logger.DebugContext(ctx, "reusing leaderboard message", slog.String("message_id", stored.MessageID))
				return domain.PresentationPointer{ChannelID: channelID, MessageID: stored.MessageID}, false, nil
			}
			p.logger.WarnContext(ctx, "stored leaderboard message unreachable, creating a new one",
				slog.String("message_id", stored.MessageID),
				slog.String("error", err.Error()),
			)
		}
	}

	msg, err := p.client.CreateMessage(ctx, p.cfg.ChannelID, Render(snap, p.cfg.Render))
	if err != nil {
		return domain.PresentationPointer{}, false, p.permissionHint(err)
	}
	ptr = domain.PresentationPointer{ChannelID: p.cfg.ChannelID, MessageID: msg.ID}
	p.logger.InfoContext(ctx, "leaderboard message created", slog.String("message_id", msg.ID))

	if err := p.pointers.Save(ctx, ptr); err != nil {
		p.logger.ErrorContext(ctx, "pointer save failed",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.client.PinMessage(ctx, ptr.ChannelID, ptr.MessageID); err != nil {
		p.logger.WarnContext(ctx, "pin failed", slog.String("error", err.Error()))
	}
	return ptr, true, nil
}

// Update re-renders the message at ptr from snap.
func (p *Presenter) Update(ctx context.Context, ptr domain.PresentationPointer, snap leaderboard.Snapshot) error {
	if _, err := p.client.EditMessage(ctx, ptr.ChannelID, ptr.MessageID, Render(snap, p.cfg.Render)); err != nil {
		return p.permissionHint(err)
	}
	p.logger.InfoContext(ctx, "leaderboard updated",
		slog.String("message_id", ptr.MessageID),
		slog.Int("donors", len(snap.Entries)),
		slog.String("total", snap.Total.StringFixed(2)),
	)
	return nil
}

// Publish makes the live leaderboard show snap, creating the message when
// needed.
func (p *Presenter) Publish(ctx context.Context, snap leaderboard.Snapshot) error {
	ptr, created, err := p.Ensure(ctx, snap)
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	return p.Update(ctx, ptr, snap)
}

// permissionHint names the channel permissions posting needs when Discord
// refuses a write.
func (p *Presenter) permissionHint(err error) error {
	if !errors.Is(err, domain.ErrForbidden) {
		return err
	}
	return fmt.Errorf("%w (the bot needs Send Messages and Embed Links in channel %s)", err, p.cfg.ChannelID)
}
