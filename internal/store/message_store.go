package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailpilot/internal/model"
)

// messageColumns is the explicit column list for message scans; the
// references_list JSON column needs manual decoding.
const messageColumns = `
	id, conversation_id, external_id, in_reply_to, references_list,
	subject, sender_type, direction, sender_address, sender_display_name,
	body_plain, body_html, detected_language, sent_at, received_at,
	requires_attention, is_draft, created_at`

// RecordInbound persists an inbound client message and bumps the
// conversation back to awaiting_response. Re-delivery of an already
// stored external id returns ErrDuplicateMessage without a new row.
func (s *SQLiteStore) RecordInbound(
	ctx context.Context,
	conversationID string,
	in InboundMessage,
) (*model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if in.ExternalID != "" {
		var count int
		err := tx.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM messages WHERE external_id = ?", in.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("checking for duplicate message: %w", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("external id %s: %w", in.ExternalID, ErrDuplicateMessage)
		}
	}

	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	} else {
		receivedAt = receivedAt.UTC()
	}

	msg := model.Message{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		ExternalID:        in.ExternalID,
		InReplyTo:         in.InReplyTo,
		ReferencesList:    in.References,
		Subject:           in.Subject,
		Sender:            model.SenderClient,
		Direction:         model.DirectionInbound,
		SenderAddress:     in.FromAddress,
		SenderDisplayName: in.FromName,
		BodyPlain:         in.BodyPlain,
		BodyHTML:          in.BodyHTML,
		DetectedLanguage:  in.DetectedLanguage,
		ReceivedAt:        &receivedAt,
		RequiresAttention: true,
		CreatedAt:         time.Now().UTC(),
	}

	if err := insertMessage(ctx, tx, &msg); err != nil {
		return nil, err
	}

	for _, att := range in.Attachments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (
				id, conversation_id, message_id, filename, content_type,
				file_size, storage_path, is_inline, is_inbound, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			uuid.New().String(), conversationID, msg.ID,
			att.Filename, att.ContentType, att.FileSize, att.StoragePath,
			boolToInt(att.IsInline), msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("recording attachment %s: %w", att.Filename, err)
		}
	}

	// New inbound mail always returns the conversation to the front of
	// the operator queue.
	if err := setStatusTx(ctx, tx, conversationID, model.StatusAwaitingResponse); err != nil {
		return nil, err
	}

	preview := msg.BodyPlain
	if preview == "" {
		preview = msg.BodyHTML
	}
	if err := touchConversation(ctx, tx, conversationID, receivedAt, preview, in.DetectedLanguage); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing inbound message: %w", err)
	}

	return &msg, nil
}

// RecordOutbound persists a sent reply. Mode approve_ai promotes the
// newest pending draft in place; when no draft exists a fresh
// assistant-authored message is inserted. Mode manual always inserts a
// manager-authored message.
func (s *SQLiteStore) RecordOutbound(
	ctx context.Context,
	conversationID string,
	req OutboundRequest,
) (*model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, conversationID, model.StatusAnsweredByLLM); err != nil {
		return nil, err
	}

	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	} else {
		sentAt = sentAt.UTC()
	}

	var msg *model.Message
	switch req.Mode {
	case model.ModeApproveAI:
		msg, err = promoteDraft(ctx, tx, conversationID, req, sentAt)
	case model.ModeManual:
		msg, err = insertOutbound(ctx, tx, conversationID, model.SenderManager, req, sentAt)
	default:
		return nil, fmt.Errorf("unknown outbound mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if err := touchConversation(ctx, tx, conversationID, sentAt, msg.BodyPlain, ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing outbound message: %w", err)
	}

	return msg, nil
}

// promoteDraft converts the newest pending draft into the sent message,
// or falls back to inserting a fresh assistant message.
func promoteDraft(
	ctx context.Context,
	tx *sqlx.Tx,
	conversationID string,
	req OutboundRequest,
	sentAt time.Time,
) (*model.Message, error) {
	row := tx.QueryRowxContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND direction = 'draft' AND is_draft = 1
		ORDER BY created_at DESC
		LIMIT 1`,
		conversationID,
	)

	draft, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return insertOutbound(ctx, tx, conversationID, model.SenderAssistant, req, sentAt)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending draft: %w", err)
	}

	if req.Text != "" {
		draft.BodyPlain = req.Text
	}
	if req.HTML != "" {
		draft.BodyHTML = req.HTML
	}
	if req.Subject != "" {
		draft.Subject = req.Subject
	}

	draft.Sender = model.SenderAssistant
	draft.Direction = model.DirectionOutbound
	draft.IsDraft = false
	draft.RequiresAttention = false
	draft.SentAt = &sentAt
	draft.ExternalID = req.ExternalID

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET
			external_id = ?, subject = ?, sender_type = ?, direction = ?,
			body_plain = ?, body_html = ?, sent_at = ?,
			requires_attention = 0, is_draft = 0
		WHERE id = ?`,
		draft.ExternalID, draft.Subject, draft.Sender, draft.Direction,
		draft.BodyPlain, draft.BodyHTML, sentAt,
		draft.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("promoting draft %s: %w", draft.ID, err)
	}

	return draft, nil
}

// insertOutbound inserts a freshly authored outbound message.
func insertOutbound(
	ctx context.Context,
	tx *sqlx.Tx,
	conversationID string,
	sender model.MessageSender,
	req OutboundRequest,
	sentAt time.Time,
) (*model.Message, error) {
	msg := model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		ExternalID:     req.ExternalID,
		Subject:        req.Subject,
		Sender:         sender,
		Direction:      model.DirectionOutbound,
		BodyPlain:      req.Text,
		BodyHTML:       req.HTML,
		SentAt:         &sentAt,
		CreatedAt:      time.Now().UTC(),
	}

	if err := insertMessage(ctx, tx, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// RecordDraft persists an assistant draft awaiting operator review. The
// conversation status is left to the caller; drafting alone does not
// change it.
func (s *SQLiteStore) RecordDraft(
	ctx context.Context,
	conversationID string,
	draft DraftMessage,
) (*model.Message, error) {
	msg := model.Message{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		Subject:           draft.Subject,
		Sender:            model.SenderAssistantDraft,
		Direction:         model.DirectionDraft,
		BodyPlain:         draft.Text,
		BodyHTML:          draft.HTML,
		DetectedLanguage:  draft.Language,
		RequiresAttention: true,
		IsDraft:           true,
		CreatedAt:         time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, &msg); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing draft: %w", err)
	}

	return &msg, nil
}

// ListMessages returns a conversation's messages in arrival/send order.
func (s *SQLiteStore) ListMessages(
	ctx context.Context,
	conversationID string,
) ([]model.Message, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// ListAttachments returns the attachment rows recorded for a message.
func (s *SQLiteStore) ListAttachments(
	ctx context.Context,
	messageID string,
) ([]model.Attachment, error) {
	var attachments []model.Attachment
	err := s.db.SelectContext(ctx, &attachments,
		"SELECT * FROM attachments WHERE message_id = ? ORDER BY created_at ASC", messageID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	return attachments, nil
}

// insertMessage writes one message row, serializing the reference chain.
func insertMessage(ctx context.Context, tx *sqlx.Tx, msg *model.Message) error {
	refs, err := json.Marshal(msg.ReferencesList)
	if err != nil {
		return fmt.Errorf("marshaling references for message %s: %w", msg.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, external_id, in_reply_to, references_list,
			subject, sender_type, direction, sender_address, sender_display_name,
			body_plain, body_html, detected_language, sent_at, received_at,
			requires_attention, is_draft, created_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?
		)`,
		msg.ID, msg.ConversationID, msg.ExternalID, msg.InReplyTo, string(refs),
		msg.Subject, msg.Sender, msg.Direction, msg.SenderAddress, msg.SenderDisplayName,
		msg.BodyPlain, msg.BodyHTML, msg.DetectedLanguage, utcOrNil(msg.SentAt), utcOrNil(msg.ReceivedAt),
		boolToInt(msg.RequiresAttention), boolToInt(msg.IsDraft), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}

	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage reads one message row, decoding the reference chain and
// integer-backed flags.
func scanMessage(row rowScanner) (*model.Message, error) {
	var msg model.Message
	var refsJSON string
	var requiresAttention, isDraft int

	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.ExternalID, &msg.InReplyTo, &refsJSON,
		&msg.Subject, &msg.Sender, &msg.Direction, &msg.SenderAddress, &msg.SenderDisplayName,
		&msg.BodyPlain, &msg.BodyHTML, &msg.DetectedLanguage, &msg.SentAt, &msg.ReceivedAt,
		&requiresAttention, &isDraft, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refsJSON != "" && refsJSON != "null" {
		if err := json.Unmarshal([]byte(refsJSON), &msg.ReferencesList); err != nil {
			return nil, fmt.Errorf("unmarshaling references for message %s: %w", msg.ID, err)
		}
	}

	msg.RequiresAttention = requiresAttention != 0
	msg.IsDraft = isDraft != 0

	return &msg, nil
}

// touchConversation updates the denormalized activity fields after a
// message lands. Language only updates when a detection is provided.
func touchConversation(
	ctx context.Context,
	tx *sqlx.Tx,
	conversationID string,
	at time.Time,
	preview string,
	language string,
) error {
	query := `
		UPDATE conversations SET
			last_message_at = ?, last_message_preview = ?, updated_at = ?`
	args := []interface{}{at, model.Preview(preview), time.Now().UTC()}

	if language != "" {
		query += ", language = ?"
		args = append(args, language)
	}

	query += " WHERE id = ?"
	args = append(args, conversationID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
