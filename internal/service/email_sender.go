package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/xxxsen/docchat/internal/config"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const resendEndpoint = "https://api.resend.com/emails"

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewEmailSender returns nil when mail is not configured.
func NewEmailSender(cfg config.MailConfig) EmailSender {
	switch strings.ToLower(cfg.Type) {
	case "smtp":
		return &smtpSender{cfg: cfg}
	case "resend":
		return &resendSender{cfg: cfg, endpoint: resendEndpoint, client: &http.Client{Timeout: 15 * time.Second}}
	default:
		return nil
	}
}

type smtpSender struct {
	cfg config.MailConfig
}

func (s *smtpSender) Send(_ context.Context, to, subject, body string) error {
	from := strings.TrimSpace(s.cfg.From)
	if s.cfg.Host == "" || s.cfg.Port == 0 || from == "" {
		return appErr.ErrInvalid
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" + body)
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

type resendSender struct {
	cfg      config.MailConfig
	endpoint string
	client   *http.Client
}

func (s *resendSender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.APIKey == "" || s.cfg.From == "" {
		return appErr.ErrInvalid
	}
	payload, err := json.Marshal(map[string]interface{}{
		"from":    s.cfg.From,
		"to":      []string{to},
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("resend error: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}
