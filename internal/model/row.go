package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Collection names exposed by the data service.
const (
	Organizations = "organizations"
	Agents        = "agents"
	Customers     = "customers"
	Conversations = "conversations"
	Messages      = "messages"
)

// ScopeColumn returns the column that ties rows of collection to an organization.
// Organizations are scoped by their own id.
func ScopeColumn(collection string) string {
	if collection == Organizations {
		return "id"
	}
	return "org_id"
}

// Row is a schemaless record as it travels between the store, the wire and clients.
type Row map[string]any

// String returns the value of column as a string, or "" when absent or null.
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		// Wire numbers arrive as float64; integral values must print without an exponent.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

// Decode fills dst (a pointer to one of the model types) from r.
func Decode(r Row, dst any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// Encode turns v (one of the model types) into a Row.
func Encode(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeAll decodes every row into a T, skipping rows that do not decode.
// It returns the decoded values and the number of rows skipped.
func DecodeAll[T any](rows []Row) ([]T, int) {
	out := make([]T, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		var v T
		if err := Decode(r, &v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}

// Eq is an equality filter on a single column.
type Eq struct {
	Column string
	Value  any
}

// Query selects rows of one collection inside one organization.
type Query struct {
	Collection string
	OrgID      string
	Filters    []Eq
	OrderBy    string
	Desc       bool
	Limit      int
}

// Signature returns a stable key identifying the query, used to collapse
// identical in-flight requests.
func (q Query) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s", q.Collection, q.OrgID)
	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, fmt.Sprintf("%s=%v", f.Column, f.Value))
	}
	sort.Strings(filters)
	for _, f := range filters {
		b.WriteString("|")
		b.WriteString(f)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, "|order=%s.%s", q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit=%d", q.Limit)
	}
	return b.String()
}

// Op is the kind of row change delivered to subscribers.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change describes a committed write to a collection.
// Record is the row after the write (nil for deletes); Old is the row before it (nil for inserts).
type Change struct {
	Collection string
	Op         Op
	Record     Row
	Old        Row
}

// Row returns whichever side of the change carries data.
func (c Change) Row() Row {
	if c.Record != nil {
		return c.Record
	}
	return c.Old
}
