package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailpilot/internal/model"
)

// AppendLog adds one entry to a conversation's audit timeline.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry model.ConversationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Actor == "" {
		entry.Actor = model.ActorSystem
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details := "{}"
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling log details: %w", err)
		}
		details = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_log (
			id, conversation_id, event_type, actor, summary, details, context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.EventType, entry.Actor,
		model.Preview(entry.Summary), details, entry.Context, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}

	return nil
}

// ListLog returns a conversation's audit timeline, oldest first.
func (s *SQLiteStore) ListLog(
	ctx context.Context,
	conversationID string,
) ([]model.ConversationLogEntry, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, conversation_id, event_type, actor, summary, details, context, created_at
		FROM conversation_log
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing log entries: %w", err)
	}
	defer rows.Close()

	var entries []model.ConversationLogEntry
	for rows.Next() {
		var entry model.ConversationLogEntry
		var details string
		err := rows.Scan(
			&entry.ID, &entry.ConversationID, &entry.EventType, &entry.Actor,
			&entry.Summary, &details, &entry.Context, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}

		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling log details: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
