// Package postgres provides PostgreSQL storage for teams and schedules.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/schedule"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository implements schedule.Repository backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new schedule repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTeam inserts the team together with its account bindings,
// members and declared escalation policy in one transaction.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team, levels []domain.EscalationLevel) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	err = tx.QueryRow(ctx, `
		INSERT INTO teams (id, name, slug, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, team.ID, team.Name, team.Slug, team.CreatedBy).Scan(&team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return schedule.ErrSlugTaken
		}
		return fmt.Errorf("insert team: %w", err)
	}

	for _, accountID := range team.AccountIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO team_accounts (team_id, account_id) VALUES ($1, $2)
		`, team.ID, accountID)
		if err != nil {
			return fmt.Errorf("insert team account: %w", err)
		}
	}

	for _, member := range team.Members {
		_, err = tx.Exec(ctx, `
			INSERT INTO team_members (team_id, responder) VALUES ($1, $2)
		`, team.ID, member)
		if err != nil {
			return fmt.Errorf("insert team member: %w", err)
		}
	}

	for _, l := range levels {
		_, err = tx.Exec(ctx, `
			INSERT INTO escalation_levels (team_id, level, delay_seconds, target)
			VALUES ($1, $2, $3, $4)
		`, l.TeamID, l.Level, int(l.Delay.Seconds()), l.Target)
		if err != nil {
			return fmt.Errorf("insert escalation level: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetTeam returns a team by id with accounts and members loaded.
func (r *Repository) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	team := &domain.Team{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, slug, created_by, created_at, updated_at
		FROM teams WHERE id = $1
	`, id).Scan(&team.ID, &team.Name, &team.Slug, &team.CreatedBy, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}

	if err := r.loadBindings(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

// ListTeams returns all teams with accounts and members loaded.
func (r *Repository) ListTeams(ctx context.Context) ([]*domain.Team, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, slug, created_by, created_at, updated_at
		FROM teams ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams, err := scanTeams(rows)
	if err != nil {
		return nil, err
	}

	for _, team := range teams {
		if err := r.loadBindings(ctx, team); err != nil {
			return nil, err
		}
	}
	return teams, nil
}

// GetEscalationPolicy returns a team's declared escalation levels in
// level order.
func (r *Repository) GetEscalationPolicy(ctx context.Context, teamID string) ([]domain.EscalationLevel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT team_id, level, delay_seconds, target
		FROM escalation_levels WHERE team_id = $1 ORDER BY level
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("get escalation policy: %w", err)
	}
	defer rows.Close()

	var levels []domain.EscalationLevel
	for rows.Next() {
		var l domain.EscalationLevel
		var delaySeconds int
		if err := rows.Scan(&l.TeamID, &l.Level, &delaySeconds, &l.Target); err != nil {
			return nil, fmt.Errorf("scan escalation level: %w", err)
		}
		l.Delay = time.Duration(delaySeconds) * time.Second
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// FindTeamsByAccountID returns teams owning the account, oldest first.
func (r *Repository) FindTeamsByAccountID(ctx context.Context, accountID string) ([]*domain.Team, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.name, t.slug, t.created_by, t.created_at, t.updated_at
		FROM teams t
		JOIN team_accounts ta ON ta.team_id = t.id
		WHERE ta.account_id = $1
		ORDER BY t.created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("find teams by account: %w", err)
	}
	defer rows.Close()

	teams, err := scanTeams(rows)
	if err != nil {
		return nil, err
	}

	for _, team := range teams {
		if err := r.loadBindings(ctx, team); err != nil {
			return nil, err
		}
	}
	return teams, nil
}

// CreateSlot inserts a schedule slot.
func (r *Repository) CreateSlot(ctx context.Context, slot *domain.ScheduleSlot) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO schedule_slots (id, team_id, responder, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, slot.ID, slot.TeamID, slot.Responder, slot.StartsAt, slot.EndsAt).Scan(&slot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// DeleteSlot removes a slot belonging to the team.
func (r *Repository) DeleteSlot(ctx context.Context, teamID, slotID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM schedule_slots WHERE id = $1 AND team_id = $2
	`, slotID, teamID)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrSlotNotFound
	}
	return nil
}

// ListSlots returns every slot of a team ordered by start time.
func (r *Repository) ListSlots(ctx context.Context, teamID string) ([]*domain.ScheduleSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, responder, starts_at, ends_at, created_at
		FROM schedule_slots WHERE team_id = $1 ORDER BY starts_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []*domain.ScheduleSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// FindSlotCovering returns the earliest-starting slot containing at.
func (r *Repository) FindSlotCovering(ctx context.Context, teamID string, at time.Time) (*domain.ScheduleSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, team_id, responder, starts_at, ends_at, created_at
		FROM schedule_slots
		WHERE team_id = $1 AND starts_at <= $2 AND ends_at > $2
		ORDER BY starts_at
		LIMIT 1
	`, teamID, at)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrSlotNotFound
		}
		return nil, err
	}
	return slot, nil
}

func (r *Repository) loadBindings(ctx context.Context, team *domain.Team) error {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id FROM team_accounts WHERE team_id = $1 ORDER BY account_id
	`, team.ID)
	if err != nil {
		return fmt.Errorf("load team accounts: %w", err)
	}
	team.AccountIDs, err = scanStrings(rows)
	if err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT responder FROM team_members WHERE team_id = $1 ORDER BY responder
	`, team.ID)
	if err != nil {
		return fmt.Errorf("load team members: %w", err)
	}
	team.Members, err = scanStrings(rows)
	return err
}

func scanTeams(rows pgx.Rows) ([]*domain.Team, error) {
	var teams []*domain.Team
	for rows.Next() {
		team := &domain.Team{}
		err := rows.Scan(&team.ID, &team.Name, &team.Slug, &team.CreatedBy, &team.CreatedAt, &team.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func scanSlot(row pgx.Row) (*domain.ScheduleSlot, error) {
	slot := &domain.ScheduleSlot{}
	err := row.Scan(&slot.ID, &slot.TeamID, &slot.Responder, &slot.StartsAt, &slot.EndsAt, &slot.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan slot: %w", err)
	}
	return slot, nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
