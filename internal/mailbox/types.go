package mailbox

import (
	"context"
	"time"
)

// Inbound is one unseen message pulled from the monitored mailbox, with
// headers, body parts, and attachment payloads.
type Inbound struct {
	// UID identifies the message within the monitored folder and is the
	// handle MarkProcessed operates on.
	UID uint32

	// MessageID is the Message-ID header without angle brackets. When
	// the header is missing a synthetic uid-<n>@<host> id is filled in
	// so duplicate detection still works.
	MessageID string

	// InReplyTo is the Message-ID this message answers, if any.
	InReplyTo string

	// References is the ancestor Message-ID chain, oldest first.
	References []string

	Subject  string
	From     string
	FromName string
	To       []string
	Cc       []string
	Date     time.Time

	TextBody string
	HTMLBody string

	Attachments []InboundAttachment
}

// InboundAttachment carries one attachment's metadata and payload.
type InboundAttachment struct {
	Filename string
	MIMEType string
	Inline   bool
	Data     []byte
}

// Outbound is a reply to be composed and submitted.
type Outbound struct {
	To      []string
	Subject string

	TextBody string
	HTMLBody string

	// InReplyTo is the Message-ID of the triggering inbound message,
	// without angle brackets.
	InReplyTo string

	// References is the full ancestor chain including the triggering
	// message, oldest first, without angle brackets.
	References []string

	Attachments []OutboundAttachment
}

// OutboundAttachment carries one attachment to include in an outbound
// message.
type OutboundAttachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Mailbox is the mail-system surface the automation engine and poller
// consume. Any transport with fetch-unseen, mark-processed, and
// send-with-threading semantics satisfies it.
type Mailbox interface {
	// FetchUnseen returns all unseen messages in the monitored folder.
	// Fetching alone must not mark them seen; a crash before
	// MarkProcessed leaves the message unseen for the next cycle.
	FetchUnseen(ctx context.Context) ([]Inbound, error)

	// MarkProcessed flags a message seen and files it into the
	// processed folder. Called only after the message has been durably
	// persisted.
	MarkProcessed(ctx context.Context, uid uint32) error

	// Send submits an outbound message and returns its Message-ID
	// without angle brackets.
	Send(ctx context.Context, out Outbound) (string, error)
}

// Gateway combines the IMAP and SMTP halves into the full Mailbox
// surface.
type Gateway struct {
	*Client
	*Sender
}

var _ Mailbox = (*Gateway)(nil)
