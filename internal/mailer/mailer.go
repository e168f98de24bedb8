// Package mailer はトランザクションメールの送信を提供する。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Message は送信する1通のメール。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ResendConfig はResendMailerの設定。
type ResendConfig struct {
	APIKey  string
	From    string // 例: Ghosted <no-reply@ghosted.example.com>
	BaseURL string // テスト用にAPIエンドポイントを差し替える場合のみ指定
	Client  *http.Client
	Logger  *slog.Logger
}

// ResendMailer はResendのAPIを使用したMailerの実装。
type ResendMailer struct {
	client *resend.Client
	from   string
	logger *slog.Logger
}

// NewResendMailer はResendMailerを生成する。
func NewResendMailer(cfg ResendConfig) (*ResendMailer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend API key is required")
	}
	if cfg.From == "" {
		return nil, errors.New("sender address is required")
	}

	var client *resend.Client
	if cfg.Client != nil {
		client = resend.NewCustomClient(cfg.Client, cfg.APIKey)
	} else {
		client = resend.NewClient(cfg.APIKey)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid resend base URL: %w", err)
		}
		client.BaseURL = u
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendMailer{client: client, from: cfg.From, logger: logger}, nil
}

// Send はメールを1通送信する。
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient is empty")
	}

	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("メール送信に失敗しました: %w", err)
	}

	m.logger.Debug("メールを送信しました",
		slog.String("email_id", sent.Id),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// compile-time interface check
var _ Mailer = (*ResendMailer)(nil)
