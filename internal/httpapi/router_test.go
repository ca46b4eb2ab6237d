package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/matheus3301/deskline/internal/store"
	"go.uber.org/zap"
)

func testRouter(t *testing.T, keys []string, checks map[string]Pinger) (http.Handler, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewRouter(db, Options{Keys: server.NewKeySet(keys), Checks: checks}, zap.NewNop())
	return r, db
}

func seedMessages(t *testing.T, db *store.DB) string {
	t.Helper()
	ctx := context.Background()
	if _, _, err := db.Insert(ctx, model.Organizations, "org-1", model.Row{"name": "Acme"}); err != nil {
		t.Fatal(err)
	}
	cust, _, err := db.Insert(ctx, model.Customers, "org-1", model.Row{"name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	conv, _, err := db.Insert(ctx, model.Conversations, "org-1", model.Row{"customer_id": cust.String("id")})
	if err != nil {
		t.Fatal(err)
	}
	for i, body := range []string{"first", "second", "third"} {
		_, _, err := db.Insert(ctx, model.Messages, "org-1", model.Row{
			"conversation_id": conv.String("id"),
			"sender_kind":     "CUSTOMER",
			"customer_id":     cust.String("id"),
			"body":            body,
			"created_at":      int64(1000 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return conv.String("id")
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := testRouter(t, nil, nil)

	rec := get(t, h, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Checks["sqlite"].Status != "pass" {
		t.Errorf("unexpected health: %+v", resp)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthzDegraded(t *testing.T) {
	h, _ := testRouter(t, nil, map[string]Pinger{"redis": failingPinger{}})

	rec := get(t, h, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Checks["redis"].Status != "fail" {
		t.Errorf("redis check = %+v", resp.Checks["redis"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := testRouter(t, nil, nil)
	get(t, h, "/healthz", nil)

	rec := get(t, h, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRESTRequiresKey(t *testing.T) {
	h, db := testRouter(t, []string{"secret"}, nil)
	seedMessages(t, db)

	rec := get(t, h, "/rest/v1/messages?org_id=org-1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d, want 401", rec.Code)
	}
	rec = get(t, h, "/rest/v1/messages?org_id=org-1", http.Header{"Apikey": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", rec.Code)
	}
	rec = get(t, h, "/rest/v1/messages?org_id=org-1", http.Header{"Authorization": {"Bearer secret"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer key: status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestRESTListFiltersOrderAndLimit(t *testing.T) {
	h, db := testRouter(t, []string{"secret"}, nil)
	convID := seedMessages(t, db)
	key := http.Header{"Apikey": {"secret"}}

	rec := get(t, h, "/rest/v1/messages?org_id=org-1&conversation_id=eq."+convID+"&order=created_at.desc&limit=2", key)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var rows []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["body"] != "third" || rows[1]["body"] != "second" {
		t.Errorf("order = %v, %v", rows[0]["body"], rows[1]["body"])
	}
}

func TestRESTOtherOrganizationIsEmpty(t *testing.T) {
	h, db := testRouter(t, nil, nil)
	seedMessages(t, db)

	rec := get(t, h, "/rest/v1/messages?org_id=org-2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestRESTErrors(t *testing.T) {
	h, _ := testRouter(t, nil, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing org", "/rest/v1/messages", http.StatusBadRequest},
		{"unknown collection", "/rest/v1/widgets?org_id=org-1", http.StatusNotFound},
		{"unknown column", "/rest/v1/messages?org_id=org-1&nope=eq.1", http.StatusBadRequest},
		{"unsupported operator", "/rest/v1/messages?org_id=org-1&body=like.x", http.StatusBadRequest},
		{"bad order", "/rest/v1/messages?org_id=org-1&order=created_at.sideways", http.StatusBadRequest},
		{"bad limit", "/rest/v1/messages?org_id=org-1&limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}
