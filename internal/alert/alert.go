package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"go-sitewatch/internal/config"
)

var ErrUnknownTransport = errors.New("unknown notification transport")

// Transport delivers one message to one recipient. The recipient format
// depends on the transport: a phone number, an email address, a chat id or a
// webhook URL.
type Transport interface {
	Name() string
	Validate() error
	Send(ctx context.Context, recipient, message string) error
}

// NewTransport builds the transport selected in cfg. Credentials come from
// cfg only.
func NewTransport(cfg config.Notifier, logger *log.Logger) (Transport, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	var t Transport
	switch cfg.Transport {
	case "twilio":
		t = &TwilioTransport{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
			Channel:    cfg.Twilio.Channel,
			BaseURL:    cfg.Twilio.BaseURL,
			Client:     client,
		}
	case "email":
		t = &EmailTransport{
			Host: cfg.SMTP.Host,
			Port: cfg.SMTP.Port,
			User: cfg.SMTP.User,
			Pass: cfg.SMTP.Pass,
			From: cfg.SMTP.From,
		}
	case "webhook":
		t = &WebhookTransport{Method: cfg.Webhook.Method, Client: client}
	case "discord":
		t = &DiscordTransport{Client: client}
	case "slack":
		t = &SlackTransport{Client: client}
	case "telegram":
		t = &TelegramTransport{BotToken: cfg.Telegram.BotToken, BaseURL: cfg.Telegram.BaseURL, Client: client}
	case "log", "":
		t = &LogTransport{Logger: logger}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, cfg.Transport)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// --- TWILIO ---

const twilioBaseURL = "https://api.twilio.com"

// TwilioTransport sends WhatsApp or SMS messages through the Twilio REST API.
type TwilioTransport struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    string
	BaseURL    string
	Client     *http.Client
}

func (t *TwilioTransport) Name() string { return "twilio" }

func (t *TwilioTransport) Validate() error {
	if t.AccountSID == "" || t.AuthToken == "" {
		return errors.New("twilio: account_sid and auth_token are required")
	}
	if t.From == "" {
		return errors.New("twilio: from is required")
	}
	if t.Channel != "whatsapp" && t.Channel != "sms" {
		return fmt.Errorf("twilio: unsupported channel %q", t.Channel)
	}
	return nil
}

func (t *TwilioTransport) address(number string) string {
	if t.Channel == "whatsapp" && !strings.HasPrefix(number, "whatsapp:") {
		return "whatsapp:" + number
	}
	return number
}

func (t *TwilioTransport) Send(ctx context.Context, recipient, message string) error {
	base := t.BaseURL
	if base == "" {
		base = twilioBaseURL
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), url.PathEscape(t.AccountSID))

	form := url.Values{}
	form.Set("To", t.address(recipient))
	form.Set("From", t.address(t.From))
	form.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(t.AccountSID, t.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client(t.Client).Do(req)
	if err != nil {
		return fmt.Errorf("twilio: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio: status %d: %s (code %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("twilio: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// --- EMAIL ---

type EmailTransport struct {
	Host, Port, User, Pass, From string
}

func (e *EmailTransport) Name() string { return "email" }

func (e *EmailTransport) Validate() error {
	if e.Host == "" || e.From == "" {
		return errors.New("email: host and from are required")
	}
	return nil
}

// Send talks SMTP over a connection bound to ctx, so a server that stalls at
// any step is cut off by the dispatcher's send timeout.
func (e *EmailTransport) Send(ctx context.Context, recipient, message string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(e.Host, e.Port))
	if err != nil {
		return fmt.Errorf("email: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, e.Host)
	if err != nil {
		return fmt.Errorf("email: greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.Host}); err != nil {
			return fmt.Errorf("email: starttls: %w", err)
		}
	}
	if e.User != "" {
		if err := c.Auth(smtp.PlainAuth("", e.User, e.Pass, e.Host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}

	if err := c.Mail(e.From); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("email: rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	msg := "To: " + recipient + "\r\n" +
		"From: " + e.From + "\r\n" +
		"Subject: Sitewatch: site offline\r\n" +
		"\r\n" +
		message + "\r\n"
	if _, err := io.WriteString(w, msg); err != nil {
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: end data: %w", err)
	}
	return c.Quit()
}

// --- GENERIC WEBHOOK ---

// WebhookTransport posts a JSON document to the recipient URL.
type WebhookTransport struct {
	Method string
	Client *http.Client
}

func (w *WebhookTransport) Name() string { return "webhook" }

func (w *WebhookTransport) Validate() error {
	if w.Method == "" {
		return errors.New("webhook: method is required")
	}
	return nil
}

func (w *WebhookTransport) Send(ctx context.Context, recipient, message string) error {
	payload := map[string]string{
		"title":   "OFFLINE",
		"message": message,
		"status":  "alert",
	}
	return sendJSON(ctx, w.Client, w.Method, recipient, payload, "webhook")
}

// --- DISCORD ---

type DiscordTransport struct{ Client *http.Client }

func (d *DiscordTransport) Name() string    { return "discord" }
func (d *DiscordTransport) Validate() error { return nil }
func (d *DiscordTransport) Send(ctx context.Context, recipient, message string) error {
	payload := map[string]string{"content": "**OFFLINE**\n" + message}
	return sendJSON(ctx, d.Client, http.MethodPost, recipient, payload, "discord")
}

// --- SLACK ---

type SlackTransport struct{ Client *http.Client }

func (s *SlackTransport) Name() string    { return "slack" }
func (s *SlackTransport) Validate() error { return nil }
func (s *SlackTransport) Send(ctx context.Context, recipient, message string) error {
	payload := map[string]string{"text": "*OFFLINE*\n" + message}
	return sendJSON(ctx, s.Client, http.MethodPost, recipient, payload, "slack")
}

// --- TELEGRAM ---

const telegramBaseURL = "https://api.telegram.org"

// TelegramTransport sends through the Bot API; the recipient is a chat id.
type TelegramTransport struct {
	BotToken string
	BaseURL  string
	Client   *http.Client
}

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) Validate() error {
	if t.BotToken == "" {
		return errors.New("telegram: bot_token is required")
	}
	return nil
}

func (t *TelegramTransport) Send(ctx context.Context, recipient, message string) error {
	base := t.BaseURL
	if base == "" {
		base = telegramBaseURL
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), t.BotToken)
	payload := map[string]string{"chat_id": recipient, "text": message}
	return sendJSON(ctx, t.Client, http.MethodPost, endpoint, payload, "telegram")
}

// --- LOG ---

// LogTransport only writes the alert to the log. It is the default when no
// transport is configured.
type LogTransport struct{ Logger *log.Logger }

func (l *LogTransport) Name() string    { return "log" }
func (l *LogTransport) Validate() error { return nil }
func (l *LogTransport) Send(_ context.Context, recipient, message string) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Warn(message, "recipient", recipient)
	return nil
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func sendJSON(ctx context.Context, c *http.Client, method, target string, payload any, name string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client(c).Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}
