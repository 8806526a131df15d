// Package mailer sends the end-of-run report with the run log attached.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Config holds the SMTP connection and envelope settings.
type Config struct {
	Server    string
	Port      int
	StartTLS  bool
	Login     string
	Password  string
	Sender    string
	Receivers []string
}

// SMTPMailer builds and delivers report mails.
type SMTPMailer struct {
	cfg  Config
	now  func() time.Time
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New returns a mailer for cfg.
func New(cfg Config) *SMTPMailer {
	d := &net.Dialer{Timeout: 30 * time.Second}
	return &SMTPMailer{
		cfg:  cfg,
		now:  time.Now,
		dial: func(ctx context.Context, addr string) (net.Conn, error) { return d.DialContext(ctx, "tcp", addr) },
	}
}

// ShouldSend reports whether a report goes out for a run with these counts.
func ShouldSend(onlyWhenRemoved bool, removed, planned int) bool {
	if !onlyWhenRemoved {
		return true
	}
	return removed > 0 || planned > 0
}

// Subject is the report subject line.
func Subject(removed, planned int) string {
	return fmt.Sprintf("Radarr - Pruned %d movies and %d planned for removal", removed, planned)
}

const reportGreeting = "Hi,\n\n Attached is the prunelog from radarr-prune.\n\nHave a nice day.\n\n"

// BuildReport renders a multipart/mixed message: a plain text body carrying
// the log, and the same log as a base64 attachment named logName.
func (m *SMTPMailer) BuildReport(removed, planned int, logName string, log []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := []string{
		"From: " + m.cfg.Sender,
		"To: " + strings.Join(m.cfg.Receivers, ", "),
		"Subject: " + Subject(removed, planned),
		"Date: " + m.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + strconv.Quote(mw.Boundary()),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(hdr, "\r\n"))
	out.WriteString("\r\n\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="utf-8"`},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := text.Write([]byte(reportGreeting)); err != nil {
		return nil, err
	}
	if _, err := text.Write(log); err != nil {
		return nil, err
	}

	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", logName)},
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	if err := writeBase64Lines(att, log); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

// writeBase64Lines wraps the encoding at 76 columns (RFC 2045).
func writeBase64Lines(w interface{ Write([]byte) (int, error) }, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}

// Send delivers msg to every receiver. STARTTLS is required when enabled;
// PLAIN auth is used when a login is configured.
func (m *SMTPMailer) Send(ctx context.Context, msg []byte) error {
	if len(m.cfg.Receivers) == 0 {
		return errors.New("no receivers configured")
	}

	addr := net.JoinHostPort(m.cfg.Server, strconv.Itoa(m.cfg.Port))
	conn, err := m.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.cfg.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Server, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Login != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Login, m.cfg.Password, m.cfg.Server)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range m.cfg.Receivers {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return c.Quit()
}

// Report builds the report and sends it.
func (m *SMTPMailer) Report(ctx context.Context, removed, planned int, logName string, log []byte) error {
	msg, err := m.BuildReport(removed, planned, logName, log)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}
