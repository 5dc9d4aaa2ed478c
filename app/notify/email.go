// Package notify sends purchase emails and reconciliation alerts.
package notify

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"example/mockup-billing/app/reconcile"

	"github.com/resend/resend-go/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed credits_purchased.html
var creditsPurchasedHTML string

var creditsPurchasedTmpl = template.Must(template.New("credits_purchased").Parse(creditsPurchasedHTML))

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type EmailConfig struct {
	APIKey  string
	From    string
	AppName string
	AppURL  string
}

// Mailer sends transactional email through Resend. Without an API key it is
// unconfigured and sends nothing.
type Mailer struct {
	cfg    EmailConfig
	sender emailSender
	log    *zap.Logger
}

func NewMailer(cfg EmailConfig, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AppName == "" {
		cfg.AppName = "Mockup"
	}
	if cfg.From == "" {
		cfg.From = fmt.Sprintf("%s <no-reply@mockup.app>", cfg.AppName)
	}
	m := &Mailer{cfg: cfg, log: log}
	if cfg.APIKey != "" {
		m.sender = resend.NewClient(cfg.APIKey).Emails
	}
	return m
}

func (m *Mailer) Configured() bool { return m.sender != nil }

type creditsPurchasedData struct {
	AppName string
	AppURL  string
	Name    string
	Credits int
	Amount  string
}

func (m *Mailer) SendCreditsPurchased(ctx context.Context, msg reconcile.CreditsPurchased) error {
	if m.sender == nil {
		return nil
	}
	var buf bytes.Buffer
	err := creditsPurchasedTmpl.Execute(&buf, creditsPurchasedData{
		AppName: m.cfg.AppName,
		AppURL:  m.cfg.AppURL,
		Name:    msg.Name,
		Credits: msg.Credits,
		Amount:  FormatAmount(msg.Amount, msg.Currency),
	})
	if err != nil {
		return fmt.Errorf("render credits email: %w", err)
	}

	sent, err := m.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.cfg.From,
		To:      []string{msg.To},
		Subject: fmt.Sprintf("%d credits added to your %s account", msg.Credits, m.cfg.AppName),
		Html:    buf.String(),
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	m.log.Info("credits purchased email sent", zap.String("to", msg.To), zap.String("email_id", sent.Id))
	return nil
}

// FormatAmount renders minor units as a display price, e.g. 5000 brl -> "R$ 50.00".
func FormatAmount(amount int64, currency string) string {
	value := decimal.New(amount, -2).StringFixed(2)
	switch strings.ToLower(currency) {
	case "brl":
		return "R$ " + value
	case "usd":
		return "$" + value
	default:
		return value + " " + strings.ToUpper(currency)
	}
}
