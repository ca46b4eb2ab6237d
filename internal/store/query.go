package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/deskline/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Select returns the rows of q.Collection that belong to q.OrgID and match
// every equality filter. Without an explicit order rows come back oldest first.
func (db *DB) Select(ctx context.Context, q model.Query) ([]model.Row, error) {
	c, err := lookup(q.Collection)
	if err != nil {
		return nil, err
	}
	if q.OrgID == "" {
		return nil, fmt.Errorf("%w: select %s without org_id", ErrScope, c.name)
	}

	where := []string{c.scope + " = ?"}
	args := []any{q.OrgID}
	for _, f := range q.Filters {
		if !c.hasColumn(f.Column) {
			return nil, fmt.Errorf("%w: %s.%s", ErrInvalidColumn, c.name, f.Column)
		}
		v, err := bindValue(f.Value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			where = append(where, f.Column+" IS NULL")
			continue
		}
		where = append(where, f.Column+" = ?")
		args = append(args, v)
	}

	order := "created_at"
	if q.OrderBy != "" {
		if !c.hasColumn(q.OrderBy) {
			return nil, fmt.Errorf("%w: order by %s.%s", ErrInvalidColumn, c.name, q.OrderBy)
		}
		order = q.OrderBy
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s %s, id ASC",
		strings.Join(c.columns, ", "), c.name, strings.Join(where, " AND "), order, dir)
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return scanRows(ctx, db, c, stmt, args...)
}

// Get returns a single row by id inside an organization.
func (db *DB) Get(ctx context.Context, name, orgID, id string) (model.Row, error) {
	c, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return getRow(ctx, db, c, orgID, id)
}

// Insert stores row in the collection under orgID and returns the stored row.
// The id and created_at columns are filled when missing. Inserting an id that
// already exists is not an error: the existing row is returned with created=false.
func (db *DB) Insert(ctx context.Context, name, orgID string, row model.Row) (stored model.Row, created bool, err error) {
	c, err := lookup(name)
	if err != nil {
		return nil, false, err
	}
	values, err := db.prepareInsert(c, orgID, row)
	if err != nil {
		return nil, false, err
	}
	id := values["id"].(string)
	scopeID, _ := values[c.scope].(string)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if c.name == model.Messages {
		if err := checkConversation(ctx, tx, scopeID, values["conversation_id"]); err != nil {
			return nil, false, err
		}
	}

	cols := make([]string, 0, len(values))
	marks := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, col := range c.columns {
		v, ok := values[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		marks = append(marks, "?")
		args = append(args, v)
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO NOTHING",
		c.name, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	if err != nil {
		return nil, false, fmt.Errorf("insert %s: %w", c.name, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	created = n == 1

	if created && c.name == model.Messages {
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_at = MAX(last_message_at, ?)
			WHERE id = ? AND org_id = ?`,
			values["created_at"], values["conversation_id"], scopeID); err != nil {
			return nil, false, fmt.Errorf("bump conversation: %w", err)
		}
	}

	stored, err = getRow(ctx, tx, c, scopeID, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit insert: %w", err)
	}
	return stored, created, nil
}

func (db *DB) prepareInsert(c collection, orgID string, row model.Row) (map[string]any, error) {
	values := make(map[string]any, len(row)+2)
	for col, v := range row {
		if !c.hasColumn(col) {
			return nil, fmt.Errorf("%w: %s.%s", ErrInvalidColumn, c.name, col)
		}
		bound, err := bindValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.name, col, err)
		}
		values[col] = bound
	}

	if given, ok := values[c.scope]; ok && given != nil && orgID != "" && given != orgID {
		return nil, fmt.Errorf("%w: %s.%s=%v outside org %s", ErrScope, c.name, c.scope, given, orgID)
	}
	if orgID != "" {
		values[c.scope] = orgID
	}
	if id, _ := values["id"].(string); id == "" {
		if c.scope == "id" && orgID != "" {
			values["id"] = orgID
		} else {
			values["id"] = c.newID()
		}
	}
	if s, _ := values[c.scope].(string); s == "" {
		return nil, fmt.Errorf("%w: insert into %s without org_id", ErrScope, c.name)
	}
	if v, ok := values["created_at"]; !ok || v == nil || v == int64(0) {
		values["created_at"] = time.Now().UnixMilli()
	}
	return values, nil
}

func checkConversation(ctx context.Context, q querier, orgID string, conversationID any) error {
	rows, err := q.QueryContext(ctx, `SELECT 1 FROM conversations WHERE id = ? AND org_id = ?`, conversationID, orgID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("conversation %v: %w", conversationID, ErrNotFound)
	}
	return nil
}

// Update applies patch to the row with the given id and returns the row
// before and after. The id and organization columns cannot be changed.
func (db *DB) Update(ctx context.Context, name, orgID, id string, patch model.Row) (before, after model.Row, err error) {
	c, err := lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if orgID == "" {
		return nil, nil, fmt.Errorf("%w: update %s without org_id", ErrScope, c.name)
	}
	if len(patch) == 0 {
		return nil, nil, fmt.Errorf("%w: empty patch", ErrInvalidValue)
	}

	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+2)
	for _, col := range c.columns {
		v, ok := patch[col]
		if !ok {
			continue
		}
		if col == "id" || col == c.scope {
			return nil, nil, fmt.Errorf("%w: %s.%s is immutable", ErrInvalidColumn, c.name, col)
		}
		bound, err := bindValue(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", c.name, col, err)
		}
		sets = append(sets, col+" = ?")
		args = append(args, bound)
	}
	if len(sets) != len(patch) {
		for col := range patch {
			if !c.hasColumn(col) {
				return nil, nil, fmt.Errorf("%w: %s.%s", ErrInvalidColumn, c.name, col)
			}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err = getRow(ctx, tx, c, orgID, id)
	if err != nil {
		return nil, nil, err
	}
	args = append(args, id, orgID)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND %s = ?",
		c.name, strings.Join(sets, ", "), c.scope), args...); err != nil {
		return nil, nil, fmt.Errorf("update %s: %w", c.name, translate(err))
	}
	after, err = getRow(ctx, tx, c, orgID, id)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit update: %w", err)
	}
	return before, after, nil
}

// Delete removes the row with the given id and returns it.
func (db *DB) Delete(ctx context.Context, name, orgID, id string) (model.Row, error) {
	c, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, fmt.Errorf("%w: delete from %s without org_id", ErrScope, c.name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := getRow(ctx, tx, c, orgID, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ? AND %s = ?", c.name, c.scope), id, orgID); err != nil {
		return nil, fmt.Errorf("delete %s: %w", c.name, translate(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return before, nil
}

func getRow(ctx context.Context, q querier, c collection, orgID, id string) (model.Row, error) {
	rows, err := scanRows(ctx, q, c,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND %s = ?", strings.Join(c.columns, ", "), c.name, c.scope),
		id, orgID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", c.name, id, ErrNotFound)
	}
	return rows[0], nil
}

func scanRows(ctx context.Context, q querier, c collection, stmt string, args ...any) ([]model.Row, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Row
	for rows.Next() {
		values := make([]any, len(c.columns))
		ptrs := make([]any, len(c.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(model.Row, len(c.columns))
		for i, col := range c.columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsNotFound reports whether err means the addressed row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
