// Package notify delivers monthly settlement verdicts to the two users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"pairxpenses/internal/log"
)

// Report is the part of a settlement a notification needs.
type Report struct {
	GeneratedAt time.Time
	PercentageA int
	Names       [2]string
	// Payer is "A", "B" or empty.
	Payer   string
	Summary string
	Lines   [5]string
}

type Notifier interface {
	NotifyReport(ctx context.Context, r Report) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyReport(context.Context, Report) error { return nil }

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends plain-text report emails over SMTP.
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *log.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

var _ Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(cfg SMTPConfig, logger *log.Logger) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("sender and at least one recipient are required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentNotify),
		send:   (*email.Email).Send,
	}, nil
}

func (n *EmailNotifier) NotifyReport(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := buildEmail(n.cfg.From, n.cfg.To, r)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := n.send(e, addr, auth); err != nil {
		n.logger.ErrorContext(ctx, "Failed to send report email", "to", strings.Join(n.cfg.To, ","), "error", err)
		return fmt.Errorf("failed to send report email: %w", err)
	}

	n.logger.InfoContext(ctx, "Report email sent", "to", strings.Join(n.cfg.To, ","), "subject", e.Subject)
	return nil
}

func buildEmail(from string, to []string, r Report) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = to
	e.Subject = fmt.Sprintf("Settlement for %s: %s", r.GeneratedAt.Format("January 2006"), subjectVerdict(r))

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s and %s,\n\n", r.Names[0], r.Names[1])
	fmt.Fprintf(&b, "%s\n\n", r.Summary)
	fmt.Fprintf(&b, "Split: %s %d%% / %s %d%%\n\n", r.Names[0], r.PercentageA, r.Names[1], 100-r.PercentageA)
	for _, l := range r.Lines {
		if l != "" {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	b.WriteString("\nThis message was generated automatically at the start of the period.\n")
	e.Text = []byte(b.String())
	return e
}

func subjectVerdict(r Report) string {
	switch r.Payer {
	case "A":
		return r.Names[0] + " pays"
	case "B":
		return r.Names[1] + " pays"
	default:
		return "nobody owes anything"
	}
}
