package wire

import (
	"fmt"

	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"google.golang.org/protobuf/types/known/structpb"
)

// WatchRequest opens a row-change stream.
type WatchRequest struct {
	Collection string
	Filter     realtime.Filter
}

// Frame is one message on a Watch or Listen stream.
type Frame struct {
	Op      string
	Change  model.Change
	Message realtime.Message
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func rowOf(v any) model.Row {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return model.Row(m)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return s, nil
}

// rowValue converts a row to the plain map structpb accepts, or nil.
func rowValue(r model.Row) any {
	if r == nil {
		return nil
	}
	return map[string]any(r)
}

// EncodeRow converts r into a Struct.
func EncodeRow(r model.Row) (*structpb.Struct, error) {
	return newStruct(map[string]any(r))
}

// DecodeRow converts s into a Row. Numbers come back as float64.
func DecodeRow(s *structpb.Struct) model.Row {
	if s == nil {
		return nil
	}
	return model.Row(s.AsMap())
}

// EncodeQuery builds a Select request.
func EncodeQuery(q model.Query) (*structpb.Struct, error) {
	filters := make([]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, map[string]any{"column": f.Column, "value": f.Value})
	}
	return newStruct(map[string]any{
		"collection": q.Collection,
		"org_id":     q.OrgID,
		"filters":    filters,
		"order_by":   q.OrderBy,
		"desc":       q.Desc,
		"limit":      q.Limit,
	})
}

// DecodeQuery parses a Select request.
func DecodeQuery(s *structpb.Struct) (model.Query, error) {
	m := s.AsMap()
	q := model.Query{
		Collection: str(m, "collection"),
		OrgID:      str(m, "org_id"),
		OrderBy:    str(m, "order_by"),
	}
	q.Desc, _ = m["desc"].(bool)
	if limit, ok := m["limit"].(float64); ok {
		q.Limit = int(limit)
	}
	if raw, ok := m["filters"].([]any); ok {
		for _, item := range raw {
			f, ok := item.(map[string]any)
			if !ok {
				return q, fmt.Errorf("malformed filter %v", item)
			}
			q.Filters = append(q.Filters, model.Eq{Column: str(f, "column"), Value: f["value"]})
		}
	}
	if q.Collection == "" {
		return q, fmt.Errorf("collection is required")
	}
	return q, nil
}

// EncodeRows builds a Select response.
func EncodeRows(rows []model.Row) (*structpb.Struct, error) {
	list := make([]any, 0, len(rows))
	for _, r := range rows {
		list = append(list, map[string]any(r))
	}
	return newStruct(map[string]any{"rows": list})
}

// DecodeRows parses a Select response.
func DecodeRows(s *structpb.Struct) []model.Row {
	raw, _ := s.AsMap()["rows"].([]any)
	rows := make([]model.Row, 0, len(raw))
	for _, item := range raw {
		if r := rowOf(item); r != nil {
			rows = append(rows, r)
		}
	}
	return rows
}

// WriteRequest is the body of Insert, Update and Delete. ID is empty for
// Insert; Row is the new row for Insert and the patch for Update.
type WriteRequest struct {
	Collection string
	OrgID      string
	ID         string
	Row        model.Row
}

// EncodeWrite builds an Insert, Update or Delete request.
func EncodeWrite(w WriteRequest) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"collection": w.Collection,
		"org_id":     w.OrgID,
		"id":         w.ID,
		"row":        rowValue(w.Row),
	})
}

// DecodeWrite parses an Insert, Update or Delete request.
func DecodeWrite(s *structpb.Struct) (WriteRequest, error) {
	m := s.AsMap()
	w := WriteRequest{
		Collection: str(m, "collection"),
		OrgID:      str(m, "org_id"),
		ID:         str(m, "id"),
		Row:        rowOf(m["row"]),
	}
	if w.Collection == "" {
		return w, fmt.Errorf("collection is required")
	}
	return w, nil
}

// EncodeRowResponse wraps a single row.
func EncodeRowResponse(r model.Row) (*structpb.Struct, error) {
	return newStruct(map[string]any{"row": rowValue(r)})
}

// DecodeRowResponse unwraps a single row.
func DecodeRowResponse(s *structpb.Struct) model.Row {
	return rowOf(s.AsMap()["row"])
}

// EncodeWatch builds a Watch request.
func EncodeWatch(w WatchRequest) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"collection": w.Collection,
		"org_id":     w.Filter.OrgID,
		"column":     w.Filter.Column,
		"value":      w.Filter.Value,
	})
}

// DecodeWatch parses a Watch request.
func DecodeWatch(s *structpb.Struct) (WatchRequest, error) {
	m := s.AsMap()
	w := WatchRequest{
		Collection: str(m, "collection"),
		Filter: realtime.Filter{
			OrgID:  str(m, "org_id"),
			Column: str(m, "column"),
			Value:  str(m, "value"),
		},
	}
	if w.Collection == "" {
		return w, fmt.Errorf("collection is required")
	}
	return w, nil
}

// EncodeBroadcast builds a Broadcast request or a Listen frame payload.
func EncodeBroadcast(msg realtime.Message) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"op":      OpBroadcast,
		"channel": msg.Channel,
		"event":   msg.Event,
		"payload": rowValue(msg.Payload),
	})
}

// DecodeBroadcast parses a Broadcast request.
func DecodeBroadcast(s *structpb.Struct) (realtime.Message, error) {
	m := s.AsMap()
	msg := realtime.Message{
		Channel: str(m, "channel"),
		Event:   str(m, "event"),
		Payload: rowOf(m["payload"]),
	}
	if msg.Channel == "" || msg.Event == "" {
		return msg, fmt.Errorf("channel and event are required")
	}
	return msg, nil
}

// EncodeListen builds a Listen request.
func EncodeListen(channel string) (*structpb.Struct, error) {
	return newStruct(map[string]any{"channel": channel})
}

// DecodeListen parses a Listen request.
func DecodeListen(s *structpb.Struct) string {
	return str(s.AsMap(), "channel")
}

// SubscribedFrame is the first frame of every stream.
func SubscribedFrame() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"op": structpb.NewStringValue(OpSubscribed),
	}}
}

// EncodeChange builds a Watch frame.
func EncodeChange(c model.Change) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"op":         string(c.Op),
		"collection": c.Collection,
		"record":     rowValue(c.Record),
		"old":        rowValue(c.Old),
	})
}

// DecodeFrame parses any stream frame.
func DecodeFrame(s *structpb.Struct) (Frame, error) {
	m := s.AsMap()
	op := str(m, "op")
	switch op {
	case OpSubscribed:
		return Frame{Op: op}, nil
	case OpBroadcast:
		msg, err := DecodeBroadcast(s)
		return Frame{Op: op, Message: msg}, err
	case string(model.OpInsert), string(model.OpUpdate), string(model.OpDelete):
		return Frame{Op: op, Change: model.Change{
			Collection: str(m, "collection"),
			Op:         model.Op(op),
			Record:     rowOf(m["record"]),
			Old:        rowOf(m["old"]),
		}}, nil
	default:
		return Frame{}, fmt.Errorf("unknown frame op %q", op)
	}
}
