// Package mailbox lists and fetches payment notifications from an IMAP
// mailbox.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Config describes the IMAP account and what to look for in it.
type Config struct {
	// Addr is host or host:port; the port defaults to 993 with TLS and 143
	// without.
	Addr     string
	Username string
	Password string
	Mailbox  string
	// Senders are the approved notification senders, matched with FROM.
	Senders []string
	// MaxPerSender keeps only the newest N matches per sender; 0 keeps all.
	MaxPerSender int
	// UseUID lists and fetches by UID instead of sequence number.
	UseUID bool
	// DisableTLS connects in plaintext. Intended for tests.
	DisableTLS bool
	Timeout    time.Duration
}

// IMAP is a single-session mailbox client. It is not safe for concurrent use;
// one reconciliation cycle owns it between Connect and Disconnect.
type IMAP struct {
	cfg    Config
	logger *slog.Logger

	c         *client.Client
	stopWatch func() bool
}

// New creates an unconnected IMAP mailbox.
func New(cfg Config, logger *slog.Logger) *IMAP {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAP{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailbox")),
	}
}

func (m *IMAP) addr() string {
	if _, _, err := net.SplitHostPort(m.cfg.Addr); err == nil {
		return m.cfg.Addr
	}
	if m.cfg.DisableTLS {
		return net.JoinHostPort(m.cfg.Addr, "143")
	}
	return net.JoinHostPort(m.cfg.Addr, "993")
}

// Connect dials, logs in and selects the mailbox read-only. Cancelling ctx
// tears the connection down.
func (m *IMAP) Connect(ctx context.Context) error {
	if m.c != nil {
		return nil
	}
	addr := m.addr()
	m.logger.InfoContext(ctx, "connecting", slog.String("addr", addr), slog.String("user", m.cfg.Username))

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	var (
		conn net.Conn
		err  error
	)
	if m.cfg.DisableTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		host, _, _ := net.SplitHostPort(addr)
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mailbox: dial %s: %w: %v", addr, domain.ErrTransport, err)
	}
	_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mailbox: greeting: %w: %v", domain.ErrTransport, err)
	}
	_ = conn.SetDeadline(time.Time{})
	c.Timeout = m.cfg.Timeout
	c.ErrorLog = log.New(io.Discard, "", 0)

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Terminate()
		return fmt.Errorf("mailbox: login: %w: %v", domain.ErrUnauthorized, err)
	}
	if _, err := c.Select(m.cfg.Mailbox, true); err != nil {
		_ = c.Logout()
		return fmt.Errorf("mailbox: select %s: %w", m.cfg.Mailbox, err)
	}

	m.c = c
	m.stopWatch = context.AfterFunc(ctx, func() { _ = c.Terminate() })
	m.logger.InfoContext(ctx, "logged in", slog.String("mailbox", m.cfg.Mailbox))
	return nil
}

// Disconnect logs out. It is safe to call when not connected.
func (m *IMAP) Disconnect() {
	if m.c == nil {
		return
	}
	if m.stopWatch != nil {
		m.stopWatch()
	}
	if err := m.c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		m.logger.Debug("logout failed", slog.String("error", err.Error()))
	}
	m.c = nil
	m.logger.Info("session closed")
}

// Search lists messages from the approved senders: the newest MaxPerSender
// per sender, merged and returned in ascending order.
func (m *IMAP) Search(ctx context.Context) ([]domain.MessageRef, error) {
	if m.c == nil {
		return nil, fmt.Errorf("mailbox: search: not connected: %w", domain.ErrTransport)
	}

	union := make(map[uint32]struct{})
	for _, sender := range m.cfg.Senders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("From", sender)

		var ids []uint32
		var err error
		if m.cfg.UseUID {
			ids, err = m.c.UidSearch(criteria)
		} else {
			ids, err = m.c.Search(criteria)
		}
		if err != nil {
			if m.dropped() {
				return nil, fmt.Errorf("mailbox: search %s: %w: %v", sender, domain.ErrTransport, err)
			}
			m.logger.WarnContext(ctx, "search failed for sender", slog.String("sender", sender), slog.String("error", err.Error()))
			continue
		}

		found := len(ids)
		ids = newest(ids, m.cfg.MaxPerSender)
		m.logger.DebugContext(ctx, "sender searched",
			slog.String("sender", sender),
			slog.Int("found", found),
			slog.Int("kept", len(ids)),
		)
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}

	out := make([]uint32, 0, len(union))
	for id := range union {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	refs := make([]domain.MessageRef, len(out))
	for i, id := range out {
		if m.cfg.UseUID {
			refs[i] = domain.MessageRef{UID: id}
		} else {
			refs[i] = domain.MessageRef{SeqNum: id}
		}
	}
	m.logger.InfoContext(ctx, "mailbox listed", slog.Int("messages", len(refs)))
	return refs, nil
}

// newest returns the n highest ids, or all of them when n <= 0.
func newest(ids []uint32, n int) []uint32 {
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n > 0 && len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// Fetch returns the full RFC 822 message without setting \Seen. A message the
// server does not return is reported as domain.ErrMessageUnavailable; a lost
// connection as domain.ErrTransport.
func (m *IMAP) Fetch(ctx context.Context, ref domain.MessageRef) ([]byte, error) {
	if m.c == nil {
		return nil, fmt.Errorf("mailbox: fetch: not connected: %w", domain.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	useUID := ref.UID != 0
	id := ref.SeqNum
	if useUID {
		id = ref.UID
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		if useUID {
			done <- m.c.UidFetch(seqset, items, messages)
		} else {
			done <- m.c.Fetch(seqset, items, messages)
		}
	}()

	var body []byte
	var readErr error
	for msg := range messages {
		lit := msg.GetBody(section)
		if lit == nil || body != nil {
			continue
		}
		body, readErr = io.ReadAll(lit)
	}

	if err := <-done; err != nil {
		if m.dropped() {
			return nil, fmt.Errorf("mailbox: fetch %d: %w: %v", id, domain.ErrTransport, err)
		}
		return nil, fmt.Errorf("mailbox: fetch %d: %w: %v", id, domain.ErrMessageUnavailable, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("mailbox: read %d: %w: %v", id, domain.ErrMessageUnavailable, readErr)
	}
	if body == nil {
		return nil, fmt.Errorf("mailbox: fetch %d: %w", id, domain.ErrMessageUnavailable)
	}
	return body, nil
}

// dropped reports whether the session is gone.
func (m *IMAP) dropped() bool {
	select {
	case <-m.c.LoggedOut():
		return true
	default:
		return m.c.State() == imap.LogoutState
	}
}

// Senders parses a comma separated sender list.
func Senders(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
