package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Email delivers through an SMTP relay. Port 465 style implicit TLS is used
// when use_ssl is set (the default), STARTTLS otherwise.
type Email struct {
	Timeout time.Duration
	policy  *bluemonday.Policy
}

func NewEmail() *Email {
	return &Email{Timeout: sendTimeout, policy: bluemonday.StrictPolicy()}
}

type emailSettings struct {
	host     string
	port     int
	username string
	password string
	useSSL   bool
	fromName string
	to       string
}

func emailSettingsFrom(cfg Config) (emailSettings, error) {
	s := emailSettings{
		host:     cfg.String("smtp_host"),
		port:     cfg.Int("smtp_port", 465),
		username: cfg.String("username"),
		password: cfg.String("password"),
		useSSL:   cfg.Bool("use_ssl", true),
		fromName: cfg.String("from_name"),
		to:       cfg.String("to_email"),
	}
	if s.fromName == "" {
		s.fromName = "AnyRouter"
	}
	if s.to == "" {
		return s, errors.New("email recipient (to_email) is not configured")
	}
	if s.host == "" || s.username == "" {
		return s, errors.New("email smtp_host/username are not configured")
	}
	return s, nil
}

// buildMessage renders a multipart/alternative message with a plain part and
// a sanitized HTML part.
func (e *Email) buildMessage(s emailSettings, title, content string) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	color := "#ff6b6b"
	if containsSuccess(title) {
		color = "#51cf66"
	}
	html := fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
<h2 style="color: %s;">%s</h2>
<p style="color: #333; line-height: 1.6;">%s</p>
<hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
<p style="color: #999; font-size: 12px;">此邮件由 AnyRouter 管理平台自动发送</p>
</body>
</html>`, color, e.policy.Sanitize(title), e.policy.Sanitize(content))

	parts := []struct{ mediaType, text string }{
		{"text/plain; charset=utf-8", content},
		{"text/html; charset=utf-8", html},
	}
	for _, p := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.mediaType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(p.text)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.BEncoding.Encode("utf-8", s.fromName), s.username)
	fmt.Fprintf(&msg, "To: %s\r\n", s.to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", title))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (e *Email) dial(ctx context.Context, s emailSettings) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: e.Timeout}
	tlsConfig := &tls.Config{ServerName: s.host}

	var (
		conn net.Conn
		err  error
	)
	if s.useSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	// net/smtp has no per-call deadlines; bound the whole session instead.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !s.useSSL {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (e *Email) Send(ctx context.Context, title, content string, cfg Config) error {
	s, err := emailSettingsFrom(cfg)
	if err != nil {
		return err
	}
	msg, err := e.buildMessage(s, title, content)
	if err != nil {
		return fmt.Errorf("email: failed to build message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	c, err := e.dial(ctx, s)
	if err != nil {
		return fmt.Errorf("email: failed to connect: %w", err)
	}
	defer c.Close()

	if s.password != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("email: auth failed: %w", err)
		}
	}
	if err := c.Mail(s.username); err != nil {
		return fmt.Errorf("email: MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(s.to); err != nil {
		return fmt.Errorf("email: RCPT TO rejected: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: DATA rejected: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		wc.Close()
		return fmt.Errorf("email: failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("email: message rejected: %w", err)
	}
	return c.Quit()
}
