package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailpilot/internal/model"
)

// CreateScenario inserts a scenario and its steps. Generates UUIDs for
// entities with empty ids and normalizes step ordering fields.
func (s *SQLiteStore) CreateScenario(ctx context.Context, scenario *model.Scenario) error {
	if strings.TrimSpace(scenario.Name) == "" {
		return fmt.Errorf("scenario name must not be empty")
	}
	if scenario.ID == "" {
		scenario.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	scenario.CreatedAt = now
	scenario.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenarios (
			id, name, subject, description, ai_preamble, operator_guidelines,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scenario.ID, scenario.Name, scenario.Subject, scenario.Description,
		scenario.AIPreamble, scenario.OperatorGuidelines,
		scenario.CreatedAt, scenario.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating scenario %s: %w", scenario.Name, err)
	}

	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.ScenarioID = scenario.ID
		if step.OrderIndex == 0 {
			step.OrderIndex = i + 1
		}
		step.CreatedAt = now
		step.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scenario_steps (
				id, scenario_id, order_index, title, description,
				ai_instructions, operator_hint, human_only, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, step.ScenarioID, step.OrderIndex, step.Title, step.Description,
			step.AIInstructions, step.OperatorHint, boolToInt(step.HumanOnly),
			step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating scenario step %d: %w", step.OrderIndex, err)
		}
	}

	return tx.Commit()
}

// GetScenario retrieves a scenario with its steps in order.
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*model.Scenario, error) {
	var scenario model.Scenario
	err := s.db.GetContext(ctx, &scenario, "SELECT * FROM scenarios WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting scenario %s: %w", id, err)
	}

	steps, err := s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	scenario.Steps = steps

	return &scenario, nil
}

// ListScenarios returns all scenarios with their steps, ordered by name.
func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]model.Scenario, error) {
	var scenarios []model.Scenario
	err := s.db.SelectContext(ctx, &scenarios, "SELECT * FROM scenarios ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}

	for i := range scenarios {
		steps, err := s.listSteps(ctx, scenarios[i].ID)
		if err != nil {
			return nil, err
		}
		scenarios[i].Steps = steps
	}

	return scenarios, nil
}

func (s *SQLiteStore) listSteps(ctx context.Context, scenarioID string) ([]model.ScenarioStep, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, scenario_id, order_index, title, description,
			ai_instructions, operator_hint, human_only, created_at, updated_at
		FROM scenario_steps
		WHERE scenario_id = ?
		ORDER BY order_index ASC`,
		scenarioID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing scenario steps: %w", err)
	}
	defer rows.Close()

	var steps []model.ScenarioStep
	for rows.Next() {
		var step model.ScenarioStep
		var humanOnly int
		err := rows.Scan(
			&step.ID, &step.ScenarioID, &step.OrderIndex, &step.Title, &step.Description,
			&step.AIInstructions, &step.OperatorHint, &humanOnly,
			&step.CreatedAt, &step.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning scenario step: %w", err)
		}
		step.HumanOnly = humanOnly != 0
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// AssignScenario attaches a scenario to a conversation, starting at its
// first step, and records the assignment in the audit timeline. Assigning
// over an existing state replaces it.
func (s *SQLiteStore) AssignScenario(
	ctx context.Context,
	conversationID, scenarioID string,
) (*model.ScenarioState, error) {
	scenario, err := s.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	activeStepID := ""
	if len(scenario.Steps) > 0 {
		activeStepID = scenario.Steps[0].ID
	}

	now := time.Now().UTC()
	state := model.ScenarioState{
		ConversationID: conversationID,
		ScenarioID:     scenarioID,
		ActiveStepID:   activeStepID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenario_states (
			conversation_id, scenario_id, active_step_id, notes, created_at, updated_at
		) VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			scenario_id = excluded.scenario_id,
			active_step_id = excluded.active_step_id,
			notes = '',
			updated_at = excluded.updated_at`,
		state.ConversationID, state.ScenarioID, state.ActiveStepID,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("assigning scenario %s: %w", scenarioID, err)
	}

	err = s.AppendLog(ctx, model.ConversationLogEntry{
		ConversationID: conversationID,
		EventType:      model.LogEventScenarioAssigned,
		Actor:          model.ActorManager,
		Summary:        fmt.Sprintf("Scenario %q assigned", scenario.Name),
		Details:        map[string]any{"scenario_id": scenarioID},
	})
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// UpdateScenarioState patches the active step and/or operator notes of a
// conversation's scenario state. Step changes are recorded in the audit
// timeline.
func (s *SQLiteStore) UpdateScenarioState(
	ctx context.Context,
	conversationID string,
	patch ScenarioStatePatch,
) (*model.ScenarioState, error) {
	state, err := s.GetScenarioState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("scenario state for conversation %s: %w", conversationID, ErrNotFound)
	}

	stepChanged := false
	if patch.ActiveStepID != nil && *patch.ActiveStepID != state.ActiveStepID {
		state.ActiveStepID = *patch.ActiveStepID
		stepChanged = true
	}
	if patch.Notes != nil {
		state.Notes = *patch.Notes
	}
	state.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE scenario_states SET active_step_id = ?, notes = ?, updated_at = ?
		WHERE conversation_id = ?`,
		state.ActiveStepID, state.Notes, state.UpdatedAt, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating scenario state: %w", err)
	}

	if stepChanged {
		err = s.AppendLog(ctx, model.ConversationLogEntry{
			ConversationID: conversationID,
			EventType:      model.LogEventScenarioStepChanged,
			Actor:          model.ActorManager,
			Summary:        "Scenario step changed",
			Details:        map[string]any{"active_step_id": state.ActiveStepID},
		})
		if err != nil {
			return nil, err
		}
	}

	return state, nil
}

// GetScenarioState returns the conversation's scenario state, or nil when
// no scenario is assigned.
func (s *SQLiteStore) GetScenarioState(
	ctx context.Context,
	conversationID string,
) (*model.ScenarioState, error) {
	var state model.ScenarioState
	err := s.db.GetContext(ctx, &state,
		"SELECT * FROM scenario_states WHERE conversation_id = ?", conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting scenario state: %w", err)
	}
	return &state, nil
}

// ClearScenario detaches any assigned scenario from the conversation.
func (s *SQLiteStore) ClearScenario(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM scenario_states WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("clearing scenario state: %w", err)
	}
	return nil
}
