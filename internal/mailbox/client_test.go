package mailbox

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testSMTPConfig() model.SMTPConfig {
	return model.SMTPConfig{
		Host:        "smtp.test.example",
		Port:        587,
		UseTLS:      true,
		FromAddress: "support@shop.example",
	}
}

func TestParseMessage_SinglePart(t *testing.T) {
	raw := []byte("From: Alice Client <alice@example.com>\r\n" +
		"To: support@shop.example\r\n" +
		"Subject: Order #42\r\n" +
		"Message-Id: <msg-1@client.example>\r\n" +
		"In-Reply-To: <prev@shop.example>\r\n" +
		"References: <root@shop.example> <prev@shop.example>\r\n" +
		"Date: Mon, 10 Aug 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Where is my package?")

	var inb Inbound
	parseMessage(raw, &inb)

	assert.Equal(t, "msg-1@client.example", inb.MessageID)
	assert.Equal(t, "prev@shop.example", inb.InReplyTo)
	assert.Equal(t, []string{"root@shop.example", "prev@shop.example"}, inb.References)
	assert.Equal(t, "Order #42", inb.Subject)
	assert.Equal(t, "alice@example.com", inb.From)
	assert.Equal(t, "Alice Client", inb.FromName)
	assert.Equal(t, "Where is my package?", inb.TextBody)
	assert.Empty(t, inb.HTMLBody)
	assert.Empty(t, inb.Attachments)
	assert.False(t, inb.Date.IsZero())
}

func TestParseMessage_Multipart(t *testing.T) {
	// Compose a realistic multipart message and feed it back through the
	// inbound parser.
	out := Outbound{
		To:         []string{"support@shop.example"},
		Subject:    "Re: Order #42",
		TextBody:   "Thanks, received!",
		HTMLBody:   "<p>Thanks, received!</p>",
		InReplyTo:  "reply-1@shop.example",
		References: []string{"msg-1@client.example", "reply-1@shop.example"},
	}

	msgID, data, err := composeMessage("alice@example.com", out)
	require.NoError(t, err)

	var inb Inbound
	parseMessage(data, &inb)

	assert.Equal(t, msgID, inb.MessageID)
	assert.Equal(t, "reply-1@shop.example", inb.InReplyTo)
	assert.Equal(t, []string{"msg-1@client.example", "reply-1@shop.example"}, inb.References)
	assert.Equal(t, "Re: Order #42", inb.Subject)
	assert.Equal(t, "alice@example.com", inb.From)
	assert.Equal(t, "Thanks, received!", inb.TextBody)
	assert.Equal(t, "<p>Thanks, received!</p>", inb.HTMLBody)
}

func TestParseMessage_Attachment(t *testing.T) {
	out := Outbound{
		To:       []string{"support@shop.example"},
		Subject:  "Photos",
		TextBody: "See attached.",
		Attachments: []OutboundAttachment{
			{Filename: "photo.jpg", MIMEType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF}},
		},
	}

	_, data, err := composeMessage("alice@example.com", out)
	require.NoError(t, err)

	var inb Inbound
	parseMessage(data, &inb)

	require.Len(t, inb.Attachments, 1)
	att := inb.Attachments[0]
	assert.Equal(t, "photo.jpg", att.Filename)
	assert.Equal(t, "image/jpeg", att.MIMEType)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, att.Data)
	assert.False(t, att.Inline)
}

// silentServer listens on a loopback port and accepts connections
// without ever writing a byte, standing in for a wedged mail server.
// It returns the port it listens on.
func silentServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	return ln.Addr().(*net.TCPAddr).Port
}

func TestFetchUnseen_UnresponsiveServerHonorsDeadline(t *testing.T) {
	port := silentServer(t)

	for _, tc := range []struct {
		name     string
		startTLS bool
	}{
		{"implicit tls", false},
		{"starttls", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(model.IMAPConfig{
				Host:     "127.0.0.1",
				Port:     port,
				Username: "support",
				Password: "secret",
				Folder:   "INBOX",
				StartTLS: tc.startTLS,
			}, testLogger())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			start := time.Now()
			_, err := client.FetchUnseen(ctx)
			elapsed := time.Since(start)

			var connErr *ConnectionError
			require.ErrorAs(t, err, &connErr)
			assert.Less(t, elapsed, 5*time.Second,
				"fetch must give up once the context deadline passes")
		})
	}
}

func TestMarkProcessed_UnresponsiveServerHonorsDeadline(t *testing.T) {
	port := silentServer(t)

	client := NewClient(model.IMAPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "support",
		Password: "secret",
		Folder:   "INBOX",
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := client.MarkProcessed(ctx, 7)
	elapsed := time.Since(start)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestParseMessage_BrokenMIMEFallsBackToPlain(t *testing.T) {
	raw := []byte("not a mime message at all")

	var inb Inbound
	parseMessage(raw, &inb)

	assert.Equal(t, "not a mime message at all", inb.TextBody)
}
