// Package email vends mail dispatch over SMTP with implicit TLS.
package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	pe "wuyrush.io/plakat/errors"
)

const errMsgMailNotSent = "mail not sent"

// Sender sends mails
type Sender interface {
	Send(m *Mail) *pe.PinErr
}

// Mail is one plain message
type Mail struct {
	From        mail.Address
	To          []mail.Address
	Subject     string
	ContentType string
	Body        string
}

// Mailer sends mails through the SMTP server at Addr (host:port) over TLS only. Some providers expect an
// app specific authorization code instead of the account password in Auth.
type Mailer struct {
	Addr          string
	Auth          smtp.Auth
	skipTLSVerify bool // NOTE only set to true during testing
}

func NewMailer(addr, username, passwd string) *Mailer {
	m := &Mailer{Addr: addr}
	if username != "" {
		host, _, _ := net.SplitHostPort(addr)
		m.Auth = smtp.PlainAuth("", username, passwd, host)
	}
	return m
}

func (ml *Mailer) Send(m *Mail) *pe.PinErr {
	if len(m.To) == 0 {
		return pe.ErrBadInput("mail has no recipients")
	}
	c, err := ml.newTLSClient()
	if err != nil {
		return pe.ErrDependencyFailure(errMsgMailNotSent).WithCause(err)
	}
	defer c.Close()
	if err := ml.transact(c, m); err != nil {
		return pe.ErrDependencyFailure(errMsgMailNotSent).WithCause(err)
	}
	return nil
}

func (ml *Mailer) transact(c *smtp.Client, m *Mail) error {
	if ml.Auth != nil {
		ok, exts := c.Extension("AUTH")
		if !ok {
			// never disclose credentials to a server that cannot take them
			return fmt.Errorf("smtp server at %s has no auth support", ml.Addr)
		}
		if err := c.Auth(ml.Auth); err != nil {
			return fmt.Errorf("error authenticating with %s (supports AUTH %s): %w", ml.Addr, exts, err)
		}
	}
	if err := c.Mail(m.From.Address); err != nil {
		return fmt.Errorf("MAIL rejected by %s: %w", ml.Addr, err)
	}
	for _, t := range m.To {
		if err := c.Rcpt(t.Address); err != nil {
			return fmt.Errorf("RCPT %s rejected by %s: %w", t.Address, ml.Addr, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected by %s: %w", ml.Addr, err)
	}
	if _, err := w.Write([]byte(compose(m))); err != nil {
		w.Close()
		return fmt.Errorf("error writing mail to %s: %w", ml.Addr, err)
	}
	// the message is only accepted once the data writer is closed
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected by %s: %w", ml.Addr, err)
	}
	return c.Quit()
}

func (ml *Mailer) newTLSClient() (*smtp.Client, error) {
	host, _, err := net.SplitHostPort(ml.Addr)
	if err != nil {
		return nil, fmt.Errorf("smtp server address %s is invalid: %w", ml.Addr, err)
	}
	conn, err := tls.Dial("tcp", ml.Addr, &tls.Config{
		InsecureSkipVerify: ml.skipTLSVerify,
		ServerName:         host,
	})
	if err != nil {
		return nil, fmt.Errorf("error dialing %s via TLS: %w", ml.Addr, err)
	}
	return smtp.NewClient(conn, host)
}

// compose renders the headers and body of m, headers in a fixed order
func compose(m *Mail) string {
	to := make([]string, 0, len(m.To))
	for _, t := range m.To {
		// NOTE String() is needed for the RFC 5322 form
		to = append(to, t.String())
	}
	contentType := m.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=UTF-8"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From.String())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprint(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	fmt.Fprint(&b, "\r\n")
	fmt.Fprint(&b, strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return b.String()
}
