// Package postgres provides PostgreSQL implementation of the incident repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// casAttempts bounds the re-evaluation loop when a conditional update
// misses because the state moved between read and write. Exact-state
// preconditions fail on the next evaluation; only the "any active
// state" precondition can legitimately retry.
const casAttempts = 3

// errCASMiss signals that the conditional update matched zero rows.
var errCASMiss = errors.New("conditional update matched no rows")

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements incident.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, team_id, alarm_name, alarm_external_ref, state, severity,
	assigned_to, escalation_level, is_game, game_multiplier,
	triggered_at, acked_at, resolved_at, expires_at, created_at, updated_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.TeamID,
		&inc.AlarmName,
		&inc.AlarmExternalRef,
		&inc.State,
		&inc.Severity,
		&inc.AssignedTo,
		&inc.EscalationLevel,
		&inc.IsGame,
		&inc.GameMultiplier,
		&inc.TriggeredAt,
		&inc.AckedAt,
		&inc.ResolvedAt,
		&inc.ExpiresAt,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// Create persists the incident, its initial timeline entry and the
// insert change event in one transaction.
func (r *Repository) Create(ctx context.Context, inc *domain.Incident, actor string) (*incident.ChangeEvent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	query := `
		INSERT INTO incidents (
			id, team_id, alarm_name, alarm_external_ref, state, severity,
			assigned_to, is_game, game_multiplier, triggered_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		inc.ID,
		inc.TeamID,
		inc.AlarmName,
		inc.AlarmExternalRef,
		inc.State,
		inc.Severity,
		inc.AssignedTo,
		inc.IsGame,
		inc.GameMultiplier,
		inc.TriggeredAt,
		inc.ExpiresAt,
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}

	if _, err := appendTimeline(ctx, tx, inc.ID, domain.TimelineTriggered, actor, ""); err != nil {
		return nil, err
	}

	ev, err := appendChange(ctx, tx, inc, incident.ChangeInsert, nil, &inc.State, actor)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return ev, nil
}

// Get retrieves an incident by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// List retrieves incidents with optional filters. The (team_id, state)
// and (assigned_to, state) indexes back the active/history views.
func (r *Repository) List(ctx context.Context, filters incident.Filters) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filters.TeamID != "" {
		query += fmt.Sprintf(" AND team_id = $%d", argNum)
		args = append(args, filters.TeamID)
		argNum++
	}

	if filters.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, *filters.State)
		argNum++
	}

	if filters.ActiveOnly {
		query += " AND state IN ('triggered', 'acked')"
	}

	if filters.History {
		query += " AND state = 'resolved'"
	}

	if filters.IsGame != nil {
		query += fmt.Sprintf(" AND is_game = $%d", argNum)
		args = append(args, *filters.IsGame)
		argNum++
	}

	// UUIDv7 ids sort chronologically
	query += " ORDER BY id DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}

	return incidents, rows.Err()
}

// Timeline returns the incident's timeline entries in append order.
func (r *Repository) Timeline(ctx context.Context, incidentID string) ([]domain.TimelineEntry, error) {
	query := `
		SELECT incident_id, seq, kind, actor, note, created_at
		FROM incident_timeline
		WHERE incident_id = $1
		ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.TimelineEntry, 0)
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.IncidentID, &e.Seq, &e.Kind, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Apply performs a conditional state transition. The state column is
// the compare-and-swap target: the UPDATE only matches when the state
// observed before the write still holds at write time. A miss with an
// exact-state precondition is a lost race; a miss with the "any active"
// precondition re-evaluates, since the precondition may still hold.
func (r *Repository) Apply(ctx context.Context, t incident.Transition) (*domain.Incident, *incident.ChangeEvent, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := r.Get(ctx, t.IncidentID)
		if err != nil {
			return nil, nil, err
		}

		if !t.Cond.Admits(cur.State) {
			return nil, nil, incident.ErrStateConflict
		}

		inc, ev, err := r.tryApply(ctx, t, cur.State)
		if err == nil {
			return inc, ev, nil
		}
		if !errors.Is(err, errCASMiss) {
			return nil, nil, err
		}
	}

	return nil, nil, incident.ErrStateConflict
}

func (r *Repository) tryApply(ctx context.Context, t incident.Transition, observed domain.IncidentState) (*domain.Incident, *incident.ChangeEvent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	var row pgx.Row
	switch t.To {
	case domain.IncidentStateAcked:
		row = tx.QueryRow(ctx, `
			UPDATE incidents
			SET state = $3, acked_at = now(), updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+incidentColumns,
			t.IncidentID, observed, t.To)
	case domain.IncidentStateTriggered:
		row = tx.QueryRow(ctx, `
			UPDATE incidents
			SET state = $3, acked_at = NULL, updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+incidentColumns,
			t.IncidentID, observed, t.To)
	case domain.IncidentStateResolved:
		row = tx.QueryRow(ctx, `
			UPDATE incidents
			SET state = $3, resolved_at = now(), expires_at = $4, updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+incidentColumns,
			t.IncidentID, observed, t.To, t.ExpiresAt)
	default:
		return nil, nil, incident.ErrInvalidState
	}

	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, errCASMiss
		}
		return nil, nil, fmt.Errorf("apply transition: %w", err)
	}

	if _, err := appendTimeline(ctx, tx, inc.ID, t.Kind, t.Actor, t.Note); err != nil {
		return nil, nil, err
	}

	before := observed
	ev, err := appendChange(ctx, tx, inc, incident.ChangeModify, &before, &inc.State, t.Actor)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	return inc, ev, nil
}

// Reassign changes the assignee of a non-resolved incident.
func (r *Repository) Reassign(ctx context.Context, id, actor, newResponder string) (*domain.Incident, *incident.ChangeEvent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	row := tx.QueryRow(ctx, `
		UPDATE incidents
		SET assigned_to = $2, updated_at = now()
		WHERE id = $1 AND state <> 'resolved'
		RETURNING `+incidentColumns,
		id, newResponder)

	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish missing from resolved.
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, nil, getErr
			}
			return nil, nil, incident.ErrStateConflict
		}
		return nil, nil, fmt.Errorf("reassign incident: %w", err)
	}

	note := fmt.Sprintf("assigned to %s", newResponder)
	if _, err := appendTimeline(ctx, tx, inc.ID, domain.TimelineReassigned, actor, note); err != nil {
		return nil, nil, err
	}

	// before == after: the classifier treats this as a no-notification change.
	ev, err := appendChange(ctx, tx, inc, incident.ChangeModify, &inc.State, &inc.State, actor)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	return inc, ev, nil
}

// CountTriggeredByAssignee returns the responder's live unacked count.
// Backed by the (assigned_to, state) index.
func (r *Repository) CountTriggeredByAssignee(ctx context.Context, responder string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM incidents
		WHERE assigned_to = $1 AND state = 'triggered'
	`, responder).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count triggered incidents: %w", err)
	}
	return count, nil
}

// DeleteGameIncidents removes all game-flagged incidents and their
// timelines, recording remove change events atomically.
func (r *Repository) DeleteGameIncidents(ctx context.Context) (int64, error) {
	return r.deleteWithChanges(ctx, `is_game`)
}

// DeleteExpired removes incidents whose expiry marker has passed.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWithChanges(ctx, `expires_at IS NOT NULL AND expires_at < $2`, now)
}

func (r *Repository) deleteWithChanges(ctx context.Context, cond string, extraArgs ...interface{}) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	// Timeline rows cascade via FK; change rows are kept as the record
	// of removal.
	query := `
		WITH gone AS (
			DELETE FROM incidents WHERE ` + cond + `
			RETURNING id, state, severity, team_id, alarm_name, assigned_to, is_game
		)
		INSERT INTO incident_changes (
			incident_id, seq, change_type, before_state, after_state,
			severity, team_id, alarm_name, assigned_to, actor, is_game, changed_at
		)
		SELECT
			gone.id,
			COALESCE((SELECT MAX(c.seq) FROM incident_changes c WHERE c.incident_id = gone.id), 0) + 1,
			'remove', gone.state, NULL,
			gone.severity, gone.team_id, gone.alarm_name, gone.assigned_to, $1, gone.is_game, now()
		FROM gone
	`
	args := append([]interface{}{domain.SystemActor}, extraArgs...)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete incidents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return tag.RowsAffected(), nil
}

func appendTimeline(ctx context.Context, q querier, incidentID string, kind domain.TimelineKind, actor, note string) (int, error) {
	var seq int
	err := q.QueryRow(ctx, `
		INSERT INTO incident_timeline (incident_id, seq, kind, actor, note)
		VALUES (
			$1,
			COALESCE((SELECT MAX(seq) FROM incident_timeline WHERE incident_id = $1), 0) + 1,
			$2, $3, $4
		)
		RETURNING seq
	`, incidentID, kind, actor, note).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append timeline entry: %w", err)
	}
	return seq, nil
}

func appendChange(ctx context.Context, q querier, inc *domain.Incident, changeType incident.ChangeType, before, after *domain.IncidentState, actor string) (*incident.ChangeEvent, error) {
	ev := &incident.ChangeEvent{
		IncidentID:  inc.ID,
		Type:        changeType,
		BeforeState: before,
		AfterState:  after,
		Severity:    inc.Severity,
		TeamID:      inc.TeamID,
		AlarmName:   inc.AlarmName,
		AssignedTo:  inc.AssignedTo,
		Actor:       actor,
		IsGame:      inc.IsGame,
	}

	err := q.QueryRow(ctx, `
		INSERT INTO incident_changes (
			incident_id, seq, change_type, before_state, after_state,
			severity, team_id, alarm_name, assigned_to, actor, is_game, changed_at
		) VALUES (
			$1,
			COALESCE((SELECT MAX(seq) FROM incident_changes WHERE incident_id = $1), 0) + 1,
			$2, $3, $4, $5, $6, $7, $8, $9, $10, now()
		)
		RETURNING id, seq, changed_at
	`, inc.ID, changeType, before, after, inc.Severity, inc.TeamID, inc.AlarmName, inc.AssignedTo, actor, inc.IsGame).
		Scan(&ev.ID, &ev.Seq, &ev.ChangedAt)
	if err != nil {
		return nil, fmt.Errorf("append change event: %w", err)
	}

	return ev, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
