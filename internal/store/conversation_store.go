package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailpilot/internal/model"
)

// ResolveConversation locates the conversation an inbound message belongs
// to, creating the client and conversation when needed. Matching order:
// threading headers against stored external ids, then the normalized
// subject among the client's open conversations. Closed conversations are
// terminal and never matched; new mail on a closed thread starts a fresh
// conversation. The whole resolution runs in one transaction so two
// concurrent resolves for the same thread identity cannot both create.
func (s *SQLiteStore) ResolveConversation(
	ctx context.Context,
	req ResolveRequest,
) (*ResolvedConversation, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("resolving conversation: sender email is empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	client, err := upsertClient(ctx, tx, email, req.Name)
	if err != nil {
		return nil, err
	}

	// Threading headers are the strongest identity: find any stored
	// message this one replies to. Nearest ancestor first.
	for _, extID := range threadCandidates(req.InReplyTo, req.References) {
		conv, err := conversationByMessageExternalID(ctx, tx, extID)
		if err != nil {
			return nil, err
		}
		if conv != nil && conv.Status != model.StatusClosed {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("committing resolution: %w", err)
			}
			return &ResolvedConversation{Conversation: conv, Client: client}, nil
		}
	}

	// Fallback: the client's open conversation on the same topic.
	normalized := model.NormalizeTopic(req.Subject)

	var conv model.Conversation
	err = tx.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE client_id = ? AND normalized_topic = ? AND status != ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		client.ID, normalized, model.StatusClosed,
	)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing resolution: %w", err)
		}
		return &ResolvedConversation{Conversation: &conv, Client: client}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up conversation by topic: %w", err)
	}

	now := time.Now().UTC()
	created := model.Conversation{
		ID:              uuid.New().String(),
		ClientID:        client.ID,
		Topic:           model.TopicFromSubject(req.Subject),
		NormalizedTopic: normalized,
		Status:          model.StatusAwaitingResponse,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			id, client_id, topic, normalized_topic, status, language,
			last_message_at, last_message_preview, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, '', NULL, '', ?, ?)`,
		created.ID, created.ClientID, created.Topic, created.NormalizedTopic,
		created.Status, created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing resolution: %w", err)
	}

	return &ResolvedConversation{Conversation: &created, Client: client, Created: true}, nil
}

// threadCandidates orders the threading header ids for lookup: the direct
// parent first, then the reference chain newest to oldest.
func threadCandidates(inReplyTo string, references []string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(inReplyTo)
	for i := len(references) - 1; i >= 0; i-- {
		add(references[i])
	}

	return out
}

// upsertClient finds the client by email or creates one. A display name
// only fills in when the stored name is still empty.
func upsertClient(ctx context.Context, tx *sqlx.Tx, email, name string) (*model.Client, error) {
	var client model.Client
	err := tx.GetContext(ctx, &client, "SELECT * FROM clients WHERE email = ?", email)
	if err == nil {
		if client.Name == "" && name != "" {
			client.Name = name
			client.UpdatedAt = time.Now().UTC()
			_, err = tx.ExecContext(ctx,
				"UPDATE clients SET name = ?, updated_at = ? WHERE id = ?",
				client.Name, client.UpdatedAt, client.ID,
			)
			if err != nil {
				return nil, fmt.Errorf("updating client name: %w", err)
			}
		}
		return &client, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up client %s: %w", email, err)
	}

	now := time.Now().UTC()
	client = model.Client{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (id, email, name, company, locale, timezone, created_at, updated_at)
		VALUES (?, ?, ?, '', '', '', ?, ?)`,
		client.ID, client.Email, client.Name, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating client %s: %w", email, err)
	}

	return &client, nil
}

// conversationByMessageExternalID returns the conversation owning the
// message with the given external id, or nil when no such message exists.
func conversationByMessageExternalID(
	ctx context.Context,
	tx *sqlx.Tx,
	externalID string,
) (*model.Conversation, error) {
	var conv model.Conversation
	err := tx.GetContext(ctx, &conv, `
		SELECT c.* FROM conversations c
		JOIN messages m ON m.conversation_id = c.id
		WHERE m.external_id = ?
		LIMIT 1`,
		externalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation by message id: %w", err)
	}
	return &conv, nil
}

// SetStatus moves the conversation to a new status. Transitions outside
// the lifecycle table fail with InvalidTransitionError.
func (s *SQLiteStore) SetStatus(
	ctx context.Context,
	conversationID string,
	status model.ConversationStatus,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, conversationID, status); err != nil {
		return err
	}

	return tx.Commit()
}

// setStatusTx performs the transition check and update inside an existing
// transaction, so record operations share the read-modify-write.
func setStatusTx(
	ctx context.Context,
	tx *sqlx.Tx,
	conversationID string,
	status model.ConversationStatus,
) error {
	var current model.ConversationStatus
	err := tx.GetContext(ctx, &current,
		"SELECT status FROM conversations WHERE id = ?", conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading conversation status: %w", err)
	}

	if !model.CanTransition(current, status) {
		return &model.InvalidTransitionError{
			ConversationID: conversationID,
			From:           current,
			To:             status,
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}

	return nil
}

// CloseConversation moves the conversation to closed and records the
// action in its audit timeline.
func (s *SQLiteStore) CloseConversation(
	ctx context.Context,
	conversationID string,
	actor model.LogActor,
) error {
	if err := s.SetStatus(ctx, conversationID, model.StatusClosed); err != nil {
		return err
	}

	return s.AppendLog(ctx, model.ConversationLogEntry{
		ConversationID: conversationID,
		EventType:      model.LogEventConversationClosed,
		Actor:          actor,
		Summary:        "Conversation closed",
	})
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.GetContext(ctx, &conv, "SELECT * FROM conversations WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return &conv, nil
}

// GetClientByEmail retrieves a client by email, matched case-insensitively.
func (s *SQLiteStore) GetClientByEmail(ctx context.Context, email string) (*model.Client, error) {
	var client model.Client
	err := s.db.GetContext(ctx, &client,
		"SELECT * FROM clients WHERE email = ?", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting client %s: %w", email, err)
	}
	return &client, nil
}

// ListConversations returns conversation summaries joined with client
// identity and unread inbound counts, newest activity first.
func (s *SQLiteStore) ListConversations(
	ctx context.Context,
	filter ConversationFilter,
) ([]ConversationSummary, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, "c.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.ClientID != nil {
		conditions = append(conditions, "c.client_id = ?")
		args = append(args, *filter.ClientID)
	}

	query := `
		SELECT
			c.*,
			cl.email AS client_email,
			cl.name AS client_name,
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id
					AND m.direction = 'inbound'
					AND m.requires_attention = 1
			) AS unread_count
		FROM conversations c
		JOIN clients cl ON cl.id = c.client_id`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY COALESCE(c.last_message_at, c.created_at) DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var summaries []ConversationSummary
	if err := s.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	return summaries, nil
}

// UnreadCounts returns the number of unhandled inbound messages per
// conversation. Conversations without unread mail are absent from the map.
func (s *SQLiteStore) UnreadCounts(
	ctx context.Context,
	conversationIDs []string,
) (map[string]int, error) {
	counts := make(map[string]int)
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	query, args, err := sqlx.In(`
		SELECT conversation_id, COUNT(*) AS cnt FROM messages
		WHERE conversation_id IN (?)
			AND direction = 'inbound'
			AND requires_attention = 1
		GROUP BY conversation_id`,
		conversationIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("building unread counts query: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[id] = count
	}

	return counts, rows.Err()
}
