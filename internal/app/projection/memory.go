package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/todo-1m/todo-pathways/internal/app/query"
	"github.com/todo-1m/todo-pathways/internal/contracts"
)

// MemoryStore is an in-process read-model implementing both Store and the
// query side, used to run the pipeline without Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]contracts.Todo
	err  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]contracts.Todo{}}
}

// FailWith makes every call return err until called again with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) InsertTodo(_ context.Context, todo contracts.Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, exists := m.rows[todo.ID]; exists {
		return nil
	}
	m.rows[todo.ID] = cloneTodo(todo)
	return nil
}

func (m *MemoryStore) RenameTodo(_ context.Context, id, title string) (bool, error) {
	return m.update(id, func(t *contracts.Todo) { t.Title = title })
}

func (m *MemoryStore) SetTodoDone(_ context.Context, id string, done bool) (bool, error) {
	return m.update(id, func(t *contracts.Todo) { t.Done = done })
}

func (m *MemoryStore) DeleteTodo(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

func (m *MemoryStore) update(id string, fn func(*contracts.Todo)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	t, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	fn(&t)
	m.rows[id] = t
	return true, nil
}

// ListTodos returns every row ordered by title, then id.
func (m *MemoryStore) ListTodos(_ context.Context) ([]contracts.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]contracts.Todo, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, cloneTodo(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetTodo(_ context.Context, id string) (contracts.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return contracts.Todo{}, m.err
	}
	t, ok := m.rows[id]
	if !ok {
		return contracts.Todo{}, query.ErrTodoNotFound
	}
	return cloneTodo(t), nil
}

// Reset drops every row.
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = map[string]contracts.Todo{}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func cloneTodo(t contracts.Todo) contracts.Todo {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	return t
}

var _ Store = (*MemoryStore)(nil)
