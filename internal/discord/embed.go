package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/kayyshop/donorboard/internal/leaderboard"
)

// Embed is a Discord rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is one name/value block of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small text under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

const (
	colorBlue = 0x3498db

	podiumSize = 3
	// maxOtherDonors caps the "Otros donantes" field.
	maxOtherDonors = 15
)

var medals = [podiumSize]string{"🥇", "🥈", "🥉"}

// RenderOptions holds the texts that vary per deployment.
type RenderOptions struct {
	// DonateLink is shown as the place to donate, e.g. a paypal.me URL.
	DonateLink string
	// Community names the server in the description and footer.
	Community string
}

// Render builds the leaderboard embed for snap.
func Render(snap leaderboard.Snapshot, opts RenderOptions) Embed {
	community := opts.Community
	if community == "" {
		community = "KayyShop"
	}

	e := Embed{
		Title: "💙 Donaciones",
		Description: fmt.Sprintf(
			"Gracias por apoyar el proyecto de %s, estos fondos serán utilizados para inversiones en el servidores y mejorar la calidad.\n\n"+
				"➡️ Para donar: **%s**\n"+
				"✍️ Pon tu **ID de Discord** en la *nota* del pago (p. ej. `399876603229896704`).",
			community, opts.DonateLink,
		),
		Color:  colorBlue,
		Footer: &EmbedFooter{Text: fmt.Sprintf("Gracias a todos los que apoyan el servidor de %s ♥️", community)},
	}
	if !snap.GeneratedAt.IsZero() {
		e.Timestamp = snap.GeneratedAt.UTC().Format(time.RFC3339)
	}

	if snap.Empty() {
		e.Fields = append(e.Fields, EmbedField{
			Name:  "Aún no hay donaciones",
			Value: "Sé el primero en aparecer aquí 🎉",
		})
	}

	for i, entry := range snap.Top(podiumSize) {
		e.Fields = append(e.Fields, EmbedField{
			Name:  fmt.Sprintf("%s  Top %d", medals[i], entry.Rank),
			Value: fmt.Sprintf("%s — **%s €**", mention(entry.DonorID), entry.Total.StringFixed(2)),
		})
	}

	if rest := snap.After(podiumSize); len(rest) > 0 {
		if len(rest) > maxOtherDonors {
			rest = rest[:maxOtherDonors]
		}
		lines := make([]string, len(rest))
		for i, entry := range rest {
			lines[i] = fmt.Sprintf("`#%02d` %s — **%s €**", entry.Rank, mention(entry.DonorID), entry.Total.StringFixed(2))
		}
		e.Fields = append(e.Fields, EmbedField{Name: "Otros donantes", Value: strings.Join(lines, "\n")})
	}

	e.Fields = append(e.Fields, EmbedField{
		Name:  "💰 Total recaudado",
		Value: fmt.Sprintf("**%s €**", snap.Total.StringFixed(2)),
	})
	return e
}

func mention(donorID string) string {
	return "<@" + donorID + ">"
}
