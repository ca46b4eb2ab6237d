package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/oklog/ulid/v2"
)

// collection describes one table the data service exposes by name.
type collection struct {
	name    string
	columns []string
	scope   string
	newID   func() string
}

func (c collection) hasColumn(name string) bool {
	return slices.Contains(c.columns, name)
}

func newUUID() string { return uuid.NewString() }

// Message ids are ULIDs so they sort by creation time even across clients.
func newULID() string { return ulid.Make().String() }

var collections = map[string]collection{
	model.Organizations: {
		name:    model.Organizations,
		columns: []string{"id", "name", "widget_color", "created_at"},
		newID:   newUUID,
	},
	model.Agents: {
		name:    model.Agents,
		columns: []string{"id", "org_id", "name", "email", "role", "created_at"},
		newID:   newUUID,
	},
	model.Customers: {
		name:    model.Customers,
		columns: []string{"id", "org_id", "name", "email", "metadata", "created_at"},
		newID:   newUUID,
	},
	model.Conversations: {
		name:    model.Conversations,
		columns: []string{"id", "org_id", "customer_id", "agent_id", "status", "last_message_at", "created_at"},
		newID:   newUUID,
	},
	model.Messages: {
		name:    model.Messages,
		columns: []string{"id", "org_id", "conversation_id", "sender_kind", "agent_id", "customer_id", "body", "created_at"},
		newID:   newULID,
	},
}

func init() {
	for name, c := range collections {
		c.scope = model.ScopeColumn(name)
		collections[name] = c
	}
}

func lookup(name string) (collection, error) {
	c, ok := collections[name]
	if !ok {
		return collection{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections returns the names of every collection, sorted.
func Collections() []string {
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// bindValue converts a row value into something the sqlite driver can bind.
// Integral float64 values (what the wire produces) become int64.
func bindValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, []byte:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		if t == float64(int64(t)) {
			return int64(t), nil
		}
		return t, nil
	case map[string]any, []any, model.Row:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}
