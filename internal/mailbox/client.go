package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"mailpilot/internal/model"
)

// sessionTimeout bounds a whole IMAP session when the caller's context
// carries no deadline of its own, so one unresponsive server can never
// stall the poll loop indefinitely.
const sessionTimeout = 60 * time.Second

// Client wraps go-imap v2 for the monitored mailbox. Each operation
// opens its own session; nothing is cached between calls.
type Client struct {
	cfg    model.IMAPConfig
	logger zerolog.Logger
}

// NewClient creates an IMAP client for the configured mailbox.
func NewClient(cfg model.IMAPConfig, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "mailbox").Logger(),
	}
}

// connect establishes a connection to the IMAP server and authenticates.
// The context bounds the whole session: the dial and TLS handshake run
// under it, and its deadline is applied to the connection so every later
// command times out with it. The caller is responsible for calling Logout
// on the returned client.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port)

	dialer := &net.Dialer{Timeout: sessionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial " + addr, Err: err}
	}
	applyDeadline(ctx, conn, sessionTimeout)

	tlsConfig := &tls.Config{ServerName: c.cfg.Host}

	var client *imapclient.Client
	if c.cfg.StartTLS {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			conn.Close()
			return nil, &ConnectionError{Op: "starttls " + addr, Err: err}
		}
	} else {
		tlsConfig.NextProtos = []string{"imap"}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &ConnectionError{Op: "tls handshake " + addr, Err: err}
		}
		client = imapclient.New(tlsConn, nil)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{Username: c.cfg.Username, Err: err}
	}

	return client, nil
}

// applyDeadline bounds all I/O on conn: the context deadline when one is
// set, otherwise now plus fallback.
func applyDeadline(ctx context.Context, conn net.Conn, fallback time.Duration) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(fallback)
	}
	_ = conn.SetDeadline(deadline)
}

// ValidateConnection verifies credentials by connecting, authenticating,
// and selecting the monitored folder.
func (c *Client) ValidateConnection(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.cfg.Folder, nil).Wait(); err != nil {
		return &ConnectionError{Op: "select " + c.cfg.Folder, Err: err}
	}

	return nil
}

// FetchUnseen connects, selects the monitored folder, and returns every
// message not flagged \Seen, with envelope, body parts, and attachment
// payloads. Bodies are fetched with a peek so the flag stays untouched
// until MarkProcessed.
func (c *Client) FetchUnseen(ctx context.Context) ([]Inbound, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.cfg.Folder, nil).Wait(); err != nil {
		return nil, &ConnectionError{Op: "select " + c.cfg.Folder, Err: err}
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &ConnectionError{Op: "search unseen", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var inbounds []Inbound
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		inbounds = append(inbounds, c.inboundFromBuffer(buf, bodySection))
	}

	if err := fetchCmd.Close(); err != nil {
		return inbounds, &ConnectionError{Op: "fetch unseen", Err: err}
	}

	c.logger.Debug().Int("count", len(inbounds)).Msg("Fetched unseen messages")

	return inbounds, nil
}

// MarkProcessed flags the message \Seen and files it into the processed
// folder. MOVE is tried first, creating the folder on demand; servers
// without MOVE fall back to COPY plus \Deleted and an expunge.
func (c *Client) MarkProcessed(ctx context.Context, uid uint32) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.cfg.Folder, nil).Wait(); err != nil {
		return &ConnectionError{Op: "select " + c.cfg.Folder, Err: err}
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return &ConnectionError{Op: "store seen flag", Err: err}
	}

	folder := c.cfg.ProcessedFolder
	if folder == "" {
		return nil
	}

	if _, err := client.Move(uidSet, folder).Wait(); err == nil {
		return nil
	}

	// The folder may not exist yet; create it and retry once.
	_ = client.Create(folder, nil).Wait()
	if _, err := client.Move(uidSet, folder).Wait(); err == nil {
		return nil
	}

	// MOVE unsupported: copy, mark deleted, expunge.
	if _, err := client.Copy(uidSet, folder).Wait(); err != nil {
		return &ConnectionError{Op: "copy to " + folder, Err: err}
	}

	delCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := delCmd.Close(); err != nil {
		return &ConnectionError{Op: "store deleted flag", Err: err}
	}

	if err := client.Expunge().Close(); err != nil {
		return &ConnectionError{Op: "expunge", Err: err}
	}

	return nil
}

// Append stores a raw message into the given folder, flagged \Seen.
// Used for filing copies of sent mail.
func (c *Client) Append(ctx context.Context, folder string, data []byte) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := appendOnce(client, folder, data); err != nil {
		// The folder may not exist yet; create it and retry once.
		_ = client.Create(folder, nil).Wait()
		if err := appendOnce(client, folder, data); err != nil {
			return &ConnectionError{Op: "append to " + folder, Err: err}
		}
	}

	return nil
}

func appendOnce(client *imapclient.Client, folder string, data []byte) error {
	opts := &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  time.Now(),
	}

	appendCmd := client.Append(folder, int64(len(data)), opts)
	if _, err := appendCmd.Write(data); err != nil {
		_ = appendCmd.Close()
		return err
	}
	if err := appendCmd.Close(); err != nil {
		return err
	}

	_, err := appendCmd.Wait()
	return err
}

// inboundFromBuffer builds an Inbound from a fetched message: envelope
// data first, then the parsed MIME body overriding where present.
func (c *Client) inboundFromBuffer(
	buf *imapclient.FetchMessageBuffer,
	section *imap.FetchItemBodySection,
) Inbound {
	inb := Inbound{UID: uint32(buf.UID)}

	if buf.Envelope != nil {
		inb.MessageID = buf.Envelope.MessageID
		inb.Subject = buf.Envelope.Subject
		inb.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			inb.From = from.Addr()
			inb.FromName = from.Name
		}
		for _, to := range buf.Envelope.To {
			inb.To = append(inb.To, to.Addr())
		}
		for _, cc := range buf.Envelope.Cc {
			inb.Cc = append(inb.Cc, cc.Addr())
		}
	}

	if raw := buf.FindBodySection(section); raw != nil {
		parseMessage(raw, &inb)
	}

	// Synthetic id so duplicate detection works for broken senders.
	if inb.MessageID == "" {
		inb.MessageID = fmt.Sprintf("uid-%d@%s", inb.UID, c.cfg.Host)
	}

	return inb
}

// parseMessage parses a raw RFC 5322 message, filling threading headers,
// body parts, and attachment payloads.
func parseMessage(raw []byte, inb *Inbound) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparsable MIME; keep envelope data and treat the payload
		// as plain text.
		inb.TextBody = string(raw)
		return
	}
	defer mr.Close()

	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		inb.MessageID = id
	}
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		inb.InReplyTo = ids[0]
	}
	if refs, err := mr.Header.MsgIDList("References"); err == nil && len(refs) > 0 {
		inb.References = refs
	}
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		inb.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		inb.Date = date
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		inb.From = from[0].Address
		inb.FromName = from[0].Name
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				inb.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				inb.HTMLBody = string(body)
			default:
				// Inline non-text content, e.g. embedded images.
				inb.Attachments = append(inb.Attachments, InboundAttachment{
					Filename: params["name"],
					MIMEType: contentType,
					Inline:   true,
					Data:     body,
				})
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			inb.Attachments = append(inb.Attachments, InboundAttachment{
				Filename: filename,
				MIMEType: contentType,
				Data:     body,
			})
		}
	}
}
