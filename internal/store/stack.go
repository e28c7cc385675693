package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackdio/stackd/internal/model"
)

const stackColumns = `id, owner_id, blueprint_id, title, description, namespace, status, status_detail,
	map_file, pillar_file, top_file, orchestrate_file, created_at, updated_at`

func scanStack(row pgx.Row) (*model.Stack, error) {
	var st model.Stack
	err := row.Scan(&st.ID, &st.OwnerID, &st.BlueprintID, &st.Title, &st.Description, &st.Namespace,
		&st.Status, &st.StatusDetail, &st.Artifacts.Map, &st.Artifacts.Pillar, &st.Artifacts.Top,
		&st.Artifacts.Orchestrate, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStack retrieves a stack by its ID.
func (s *Store) GetStack(ctx context.Context, id int64) (*model.Stack, error) {
	st, err := scanStack(s.db.QueryRow(ctx, `SELECT `+stackColumns+` FROM stacks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "stack", id)
	}
	return st, nil
}

// CreateStack inserts the stack, its first history entry, its hosts and their
// volumes in one transaction. The stack and host IDs are filled in.
func (s *Store) CreateStack(ctx context.Context, stack *model.Stack, hosts []model.HostSpec) error {
	err := s.tx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO stacks (owner_id, blueprint_id, title, description, namespace, status, status_detail)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at, updated_at`,
			stack.OwnerID, stack.BlueprintID, stack.Title, stack.Description, stack.Namespace,
			stack.Status, stack.StatusDetail,
		).Scan(&stack.ID, &stack.CreatedAt, &stack.UpdatedAt)
		if err != nil {
			return err
		}

		if err := insertHistory(ctx, tx, stack.ID, model.StatusUpdate{
			Event:  "stack_created",
			Status: stack.Status,
			Detail: stack.StatusDetail,
			Level:  model.LevelInfo,
		}); err != nil {
			return err
		}

		return insertHosts(ctx, tx, stack.ID, hosts)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create stack %q: %w", stack.Title, model.ErrStackExists)
		}
		return fmt.Errorf("create stack %q: %w", stack.Title, err)
	}
	return nil
}

// SetStackStatus updates the stack's status and appends the matching history
// entry atomically. It is the only way a stack's status changes.
func (s *Store) SetStackStatus(ctx context.Context, stackID int64, u model.StatusUpdate) error {
	if u.Level == "" {
		u.Level = model.LevelInfo
	}
	err := s.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE stacks SET status = $1, status_detail = $2, updated_at = now() WHERE id = $3`,
			u.Status, u.Detail, stackID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.ErrNotFound
		}
		return insertHistory(ctx, tx, stackID, u)
	})
	if err != nil {
		return fmt.Errorf("set stack %d status %s: %w", stackID, u.Status, err)
	}
	return nil
}

func insertHistory(ctx context.Context, q querier, stackID int64, u model.StatusUpdate) error {
	_, err := q.Exec(ctx,
		`INSERT INTO stack_history (stack_id, event, status, status_detail, level) VALUES ($1, $2, $3, $4, $5)`,
		stackID, u.Event, u.Status, u.Detail, u.Level)
	return err
}

// ListStackHistory returns a stack's history, oldest first.
func (s *Store) ListStackHistory(ctx context.Context, stackID int64) ([]model.StackHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stack_id, event, status, status_detail, level, created_at
		 FROM stack_history WHERE stack_id = $1 ORDER BY id`, stackID)
	if err != nil {
		return nil, fmt.Errorf("list stack %d history: %w", stackID, err)
	}
	defer rows.Close()

	var history []model.StackHistory
	for rows.Next() {
		var h model.StackHistory
		if err := rows.Scan(&h.ID, &h.StackID, &h.Event, &h.Status, &h.StatusDetail, &h.Level, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stack history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack history: %w", err)
	}
	return history, nil
}

// SaveStackArtifacts stores the rendered salt inputs of a stack.
func (s *Store) SaveStackArtifacts(ctx context.Context, stackID int64, a model.Artifacts) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE stacks SET map_file = $1, pillar_file = $2, top_file = $3, orchestrate_file = $4, updated_at = now()
		 WHERE id = $5`,
		a.Map, a.Pillar, a.Top, a.Orchestrate, stackID)
	if err != nil {
		return fmt.Errorf("save stack %d artifacts: %w", stackID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stack %d: %w", stackID, model.ErrNotFound)
	}
	return nil
}

// DeleteStack removes the stack row. History, hosts and volumes cascade.
func (s *Store) DeleteStack(ctx context.Context, stackID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM stacks WHERE id = $1`, stackID)
	if err != nil {
		return fmt.Errorf("delete stack %d: %w", stackID, err)
	}
	return nil
}
