package projection

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-1m/todo-pathways/internal/contracts"
)

const createTodoTableSQL = `
CREATE TABLE IF NOT EXISTS todo (
  id text PRIMARY KEY,
  title text NOT NULL,
  description text,
  done boolean NOT NULL DEFAULT false
)`

const createTodoTitleIndexSQL = `
CREATE INDEX IF NOT EXISTS todo_title_idx ON todo (title)`

const insertTodoSQL = `
INSERT INTO todo (id, title, description, done)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`

const renameTodoSQL = `UPDATE todo SET title = $2 WHERE id = $1`

const setTodoDoneSQL = `UPDATE todo SET done = $2 WHERE id = $1`

const deleteTodoSQL = `DELETE FROM todo WHERE id = $1`

const resetTodoSQL = `TRUNCATE todo`

// TodoRepository writes the read-model. It shares the process-wide pool and
// relies on Postgres row atomicity; there is no application-level locking.
type TodoRepository struct {
	Pool *pgxpool.Pool
}

func NewTodoRepository(pool *pgxpool.Pool) *TodoRepository {
	return &TodoRepository{Pool: pool}
}

func (r *TodoRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTodoTableSQL); err != nil {
		return err
	}
	_, err := r.Pool.Exec(ctx, createTodoTitleIndexSQL)
	return err
}

func (r *TodoRepository) InsertTodo(ctx context.Context, todo contracts.Todo) error {
	_, err := r.Pool.Exec(ctx, insertTodoSQL, todo.ID, todo.Title, todo.Description, todo.Done)
	return err
}

func (r *TodoRepository) RenameTodo(ctx context.Context, id, title string) (bool, error) {
	tag, err := r.Pool.Exec(ctx, renameTodoSQL, id, title)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TodoRepository) SetTodoDone(ctx context.Context, id string, done bool) (bool, error) {
	tag, err := r.Pool.Exec(ctx, setTodoDoneSQL, id, done)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TodoRepository) DeleteTodo(ctx context.Context, id string) (bool, error) {
	tag, err := r.Pool.Exec(ctx, deleteTodoSQL, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reset empties the read-model ahead of a replay from the event log.
func (r *TodoRepository) Reset(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, resetTodoSQL)
	return err
}
