package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	company    TEXT NOT NULL DEFAULT '',
	locale     TEXT NOT NULL DEFAULT '',
	timezone   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id                   TEXT PRIMARY KEY,
	client_id            TEXT NOT NULL REFERENCES clients(id),
	topic                TEXT NOT NULL,
	normalized_topic     TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'awaiting_response'
		CHECK(status IN ('awaiting_response', 'answered_by_llm', 'needs_human', 'closed')),
	language             TEXT NOT NULL DEFAULT '',
	last_message_at      DATETIME,
	last_message_preview TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_client_id ON conversations(client_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE INDEX IF NOT EXISTS idx_conversations_thread
	ON conversations(client_id, normalized_topic);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	conversation_id     TEXT NOT NULL REFERENCES conversations(id),
	external_id         TEXT NOT NULL DEFAULT '',
	in_reply_to         TEXT NOT NULL DEFAULT '',
	references_list     TEXT NOT NULL DEFAULT '[]',
	subject             TEXT NOT NULL DEFAULT '',
	sender_type         TEXT NOT NULL
		CHECK(sender_type IN ('client', 'assistant', 'assistant_draft', 'manager')),
	direction           TEXT NOT NULL
		CHECK(direction IN ('inbound', 'outbound', 'draft')),
	sender_address      TEXT NOT NULL DEFAULT '',
	sender_display_name TEXT NOT NULL DEFAULT '',
	body_plain          TEXT NOT NULL DEFAULT '',
	body_html           TEXT NOT NULL DEFAULT '',
	detected_language   TEXT NOT NULL DEFAULT '',
	sent_at             DATETIME,
	received_at         DATETIME,
	requires_attention  INTEGER NOT NULL DEFAULT 0 CHECK(requires_attention IN (0, 1)),
	is_draft            INTEGER NOT NULL DEFAULT 0 CHECK(is_draft IN (0, 1)),
	created_at          DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external_id
	ON messages(external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_in_reply_to ON messages(in_reply_to);

CREATE TABLE IF NOT EXISTS attachments (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	message_id      TEXT NOT NULL DEFAULT '',
	filename        TEXT NOT NULL DEFAULT '',
	content_type    TEXT NOT NULL DEFAULT '',
	file_size       INTEGER NOT NULL DEFAULT 0,
	storage_path    TEXT NOT NULL DEFAULT '',
	is_inline       INTEGER NOT NULL DEFAULT 0 CHECK(is_inline IN (0, 1)),
	is_inbound      INTEGER NOT NULL DEFAULT 0 CHECK(is_inbound IN (0, 1)),
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);

CREATE TABLE IF NOT EXISTS scenarios (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL UNIQUE,
	subject             TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	ai_preamble         TEXT NOT NULL DEFAULT '',
	operator_guidelines TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_steps (
	id              TEXT PRIMARY KEY,
	scenario_id     TEXT NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
	order_index     INTEGER NOT NULL DEFAULT 0,
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	ai_instructions TEXT NOT NULL DEFAULT '',
	operator_hint   TEXT NOT NULL DEFAULT '',
	human_only      INTEGER NOT NULL DEFAULT 0 CHECK(human_only IN (0, 1)),
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenario_steps_scenario_id ON scenario_steps(scenario_id);

CREATE TABLE IF NOT EXISTS scenario_states (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
	scenario_id     TEXT NOT NULL REFERENCES scenarios(id),
	active_step_id  TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_log (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	event_type      TEXT NOT NULL,
	actor           TEXT NOT NULL DEFAULT 'system',
	summary         TEXT NOT NULL DEFAULT '',
	details         TEXT NOT NULL DEFAULT '{}',
	context         TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_log_conversation_id
	ON conversation_log(conversation_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
