package model

import "time"

// Scenario is a guided conversation script operators can attach to a
// conversation. Its steps shape both the assistant prompt and the hints
// shown to operators.
type Scenario struct {
	ID string `json:"id" db:"id"`

	// Name is unique across scenarios.
	Name string `json:"name" db:"name"`

	Subject            string `json:"subject,omitempty" db:"subject"`
	Description        string `json:"description,omitempty" db:"description"`
	AIPreamble         string `json:"ai_preamble,omitempty" db:"ai_preamble"`
	OperatorGuidelines string `json:"operator_guidelines,omitempty" db:"operator_guidelines"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Steps is populated by queries that load the scenario in full,
	// ordered by OrderIndex.
	Steps []ScenarioStep `json:"steps,omitempty" db:"-"`
}

// ScenarioStep is one stage of a scenario.
type ScenarioStep struct {
	ID         string `json:"id" db:"id"`
	ScenarioID string `json:"scenario_id" db:"scenario_id"`
	OrderIndex int    `json:"order_index" db:"order_index"`

	Title          string `json:"title,omitempty" db:"title"`
	Description    string `json:"description,omitempty" db:"description"`
	AIInstructions string `json:"ai_instructions,omitempty" db:"ai_instructions"`
	OperatorHint   string `json:"operator_hint,omitempty" db:"operator_hint"`

	// HumanOnly suppresses automatic replies while this step is active;
	// the assistant still drafts, but nothing is sent without review.
	HumanOnly bool `json:"human_only" db:"human_only"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScenarioState binds a conversation to its assigned scenario and tracks
// the active step. One state per conversation.
type ScenarioState struct {
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	ScenarioID     string `json:"scenario_id" db:"scenario_id"`

	// ActiveStepID is empty when the scenario has no steps.
	ActiveStepID string `json:"active_step_id,omitempty" db:"active_step_id"`

	Notes string `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
