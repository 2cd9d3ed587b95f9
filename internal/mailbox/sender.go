package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"mailpilot/internal/model"
)

// Sender submits outbound mail via SMTP and files a best-effort copy of
// each sent message into the Sent folder.
type Sender struct {
	cfg    model.SMTPConfig
	imap   *Client
	logger zerolog.Logger
}

// NewSender creates an SMTP sender. The IMAP client is only used for
// filing sent copies; nil disables that.
func NewSender(cfg model.SMTPConfig, imap *Client, logger zerolog.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		imap:   imap,
		logger: logger.With().Str("component", "sender").Logger(),
	}
}

// ReplySubject returns the subject line for a reply: prefixed with
// "Re: " unless such a prefix is already present.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "Re:"
	}
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

// Send composes and submits an outbound message, returning the generated
// Message-ID without angle brackets. All submission failures surface as
// DeliveryError.
func (s *Sender) Send(ctx context.Context, out Outbound) (string, error) {
	if len(out.To) == 0 {
		return "", &DeliveryError{Recipient: "(none)", Err: fmt.Errorf("no recipients")}
	}

	msgID, data, err := composeMessage(s.cfg.FromAddress, out)
	if err != nil {
		return "", &DeliveryError{Recipient: out.To[0], Err: err}
	}

	if err := s.submit(ctx, out.To, data); err != nil {
		return "", &DeliveryError{Recipient: strings.Join(out.To, ", "), Err: err}
	}

	s.logger.Info().
		Str("to", strings.Join(out.To, ", ")).
		Str("message_id", msgID).
		Msg("Sent outbound message")

	s.appendSent(ctx, data)

	return msgID, nil
}

// composeMessage builds the full RFC 5322 message: text/plain plus an
// optional text/html alternative, then attachments. Returns the
// generated Message-ID without angle brackets and the raw bytes.
func composeMessage(from string, out Outbound) (string, []byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})

	toList := make([]*mail.Address, 0, len(out.To))
	for _, addr := range out.To {
		toList = append(toList, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", toList)
	h.SetSubject(out.Subject)

	if err := h.GenerateMessageID(); err != nil {
		return "", nil, fmt.Errorf("generating message id: %w", err)
	}
	msgID, err := h.MessageID()
	if err != nil {
		return "", nil, fmt.Errorf("reading message id: %w", err)
	}

	// Threading headers so mail clients attach the reply to its thread.
	if out.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{out.InReplyTo})
	}
	if len(out.References) > 0 {
		h.SetMsgIDList("References", out.References)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return "", nil, fmt.Errorf("creating mail writer: %w", err)
	}

	inline, err := mw.CreateInline()
	if err != nil {
		return "", nil, fmt.Errorf("creating inline part: %w", err)
	}

	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	textPart, err := inline.CreatePart(textHeader)
	if err != nil {
		return "", nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := io.WriteString(textPart, out.TextBody); err != nil {
		return "", nil, fmt.Errorf("writing text body: %w", err)
	}
	if err := textPart.Close(); err != nil {
		return "", nil, fmt.Errorf("closing text part: %w", err)
	}

	if out.HTMLBody != "" {
		var htmlHeader mail.InlineHeader
		htmlHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		htmlPart, err := inline.CreatePart(htmlHeader)
		if err != nil {
			return "", nil, fmt.Errorf("creating html part: %w", err)
		}
		if _, err := io.WriteString(htmlPart, out.HTMLBody); err != nil {
			return "", nil, fmt.Errorf("writing html body: %w", err)
		}
		if err := htmlPart.Close(); err != nil {
			return "", nil, fmt.Errorf("closing html part: %w", err)
		}
	}

	if err := inline.Close(); err != nil {
		return "", nil, fmt.Errorf("closing inline part: %w", err)
	}

	for _, att := range out.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.MIMEType != "" {
			ah.SetContentType(att.MIMEType, nil)
		}

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return "", nil, fmt.Errorf("creating attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			_ = aw.Close()
			return "", nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return "", nil, fmt.Errorf("closing attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", nil, fmt.Errorf("closing mail writer: %w", err)
	}

	return msgID, buf.Bytes(), nil
}

// submitTimeout bounds an SMTP session when the caller's context carries
// no deadline of its own.
const submitTimeout = 30 * time.Second

// submit drives the SMTP session. Port 465 is always implicit TLS;
// otherwise the connection is upgraded with STARTTLS when use_tls is
// set, or left in the clear for local relays.
func (s *Sender) submit(ctx context.Context, recipients []string, data []byte) error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}

	switch {
	case s.cfg.Port == 465:
		return s.sendWithTLS(ctx, conn, addr, recipients, data)
	case s.cfg.UseTLS:
		return s.sendWithStartTLS(conn, recipients, data)
	default:
		return s.sendPlain(conn, recipients, data)
	}
}

// dial opens the TCP connection under the context and bounds all later
// I/O on it, so a wedged server cannot stall a send past its deadline.
func (s *Sender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: submitTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	applyDeadline(ctx, conn, submitTimeout)
	return conn, nil
}

// sendWithTLS submits over an implicit TLS connection.
func (s *Sender) sendWithTLS(ctx context.Context, conn net.Conn, addr string, recipients []string, data []byte) error {
	tlsConn := tls.Client(conn, &tls.Config{ServerName: s.cfg.Host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("TLS handshake with %s: %w", addr, err)
	}

	client, err := smtp.NewClient(tlsConn, s.cfg.Host)
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client); err != nil {
		return err
	}

	return sendMailViaClient(client, s.cfg.FromAddress, recipients, data)
}

// sendWithStartTLS submits over a plain connection upgraded with STARTTLS.
func (s *Sender) sendWithStartTLS(conn net.Conn, recipients []string, data []byte) error {
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	if err := s.auth(client); err != nil {
		return err
	}

	return sendMailViaClient(client, s.cfg.FromAddress, recipients, data)
}

// sendPlain submits over an unencrypted connection. Only sensible for
// local relays; authentication is refused by net/smtp on non-local
// plaintext sessions.
func (s *Sender) sendPlain(conn net.Conn, recipients []string, data []byte) error {
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client); err != nil {
		return err
	}

	return sendMailViaClient(client, s.cfg.FromAddress, recipients, data)
}

// auth authenticates when credentials are configured. Servers that
// accept unauthenticated submission (local relays) work with an empty
// username.
func (s *Sender) auth(client *smtp.Client) error {
	if s.cfg.Username == "" {
		return nil
	}

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return nil
}

// sendMailViaClient sends a message using an already-authenticated SMTP
// client.
func sendMailViaClient(client *smtp.Client, from string, recipients []string, data []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}

// appendSent files a copy of the sent message into the Sent folder.
// Failures are logged and swallowed; the send already succeeded.
func (s *Sender) appendSent(ctx context.Context, data []byte) {
	if s.imap == nil || s.cfg.SentFolder == "" {
		return
	}

	if err := s.imap.Append(ctx, s.cfg.SentFolder, data); err != nil {
		s.logger.Warn().
			Err(err).
			Str("folder", s.cfg.SentFolder).
			Msg("Failed to file sent copy")
	}
}
