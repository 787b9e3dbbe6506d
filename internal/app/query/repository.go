package query

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-1m/todo-pathways/internal/contracts"
)

var ErrTodoNotFound = errors.New("todo not found")

const undefinedTable = "42P01"

type TodoRepository struct {
	Pool *pgxpool.Pool
}

func NewTodoRepository(pool *pgxpool.Pool) *TodoRepository {
	return &TodoRepository{Pool: pool}
}

// ListTodos returns the whole read-model ordered by title. A read-model that
// was never created reads as empty.
func (r *TodoRepository) ListTodos(ctx context.Context) ([]contracts.Todo, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, title, description, done
		 FROM todo
		 ORDER BY title, id`,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return []contracts.Todo{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	result := []contracts.Todo{}
	for rows.Next() {
		var t contracts.Todo
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Done); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *TodoRepository) GetTodo(ctx context.Context, id string) (contracts.Todo, error) {
	var t contracts.Todo
	err := r.Pool.QueryRow(ctx,
		`SELECT id, title, description, done
		 FROM todo
		 WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.Done)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
			return contracts.Todo{}, ErrTodoNotFound
		}
		return contracts.Todo{}, err
	}
	return t, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
