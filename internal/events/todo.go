package events

import "encoding/json"

const FlowTodoItems = "todo-items"

// Version suffixes let a payload shape evolve by adding a new event type
// alongside the old one.
const (
	TodoCreatedV0   = "todo-item.created.v0"
	TodoRenamedV0   = "todo-item.renamed.v0"
	TodoCompletedV0 = "todo-item.completed.v0"
	TodoReopenedV0  = "todo-item.reopened.v0"
	TodoDeletedV0   = "todo-item.deleted.v0"
)

// TodoCreated is a full snapshot; Done is always false.
type TodoCreated struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Done        bool    `json:"done"`
}

type TodoRenamed struct {
	ID       string `json:"id"`
	NewTitle string `json:"newTitle"`
}

type TodoCompleted struct {
	ID string `json:"id"`
}

type TodoReopened struct {
	ID string `json:"id"`
}

type TodoDeleted struct {
	ID string `json:"id"`
}

func TodoSchemas() []Schema {
	return []Schema{
		newSchema[TodoCreated](TodoCreatedV0,
			requiredString("id"),
			requiredString("title"),
			optionalString("description"),
			literalBool("done", false),
		),
		newSchema[TodoRenamed](TodoRenamedV0,
			requiredString("id"),
			requiredString("newTitle"),
		),
		newSchema[TodoCompleted](TodoCompletedV0, requiredString("id")),
		newSchema[TodoReopened](TodoReopenedV0, requiredString("id")),
		newSchema[TodoDeleted](TodoDeletedV0, requiredString("id")),
	}
}

func NewTodoRegistry() *Registry {
	return NewRegistry(TodoSchemas()...)
}

// PartitionKey returns the payload's "id", the key events for one item are
// ordered by. Empty when the payload carries none.
func PartitionKey(raw json.RawMessage) string {
	var keyed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return ""
	}
	return keyed.ID
}
