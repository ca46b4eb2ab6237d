package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/matheus3301/deskline/internal/store"
	"go.uber.org/zap"
)

const apiKeyHeader = "apikey"

type handler struct {
	db     Reader
	keys   server.KeySet
	checks map[string]Pinger
	logger *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Checks    map[string]check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Checks: map[string]check{}}
	run := func(name string, ping func(context.Context) error) {
		start := time.Now()
		if err := ping(ctx); err != nil {
			resp.Checks[name] = check{Status: "fail", Message: err.Error()}
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = check{Status: "pass", Latency: time.Since(start).String()}
	}
	run("sqlite", h.db.PingContext)
	for name, p := range h.checks {
		run(name, p.Ping)
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// requireKey accepts the key in the apikey header or as a bearer token.
func (h *handler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if h.keys.Enabled() && (key == "" || !h.keys.Valid(key)) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// list serves GET /rest/v1/{collection}?org_id=o1&col=eq.value&order=col.desc&limit=n.
func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(chi.URLParam(r, "collection"), r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.db.Select(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUnknownCollection):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, store.ErrInvalidColumn), errors.Is(err, store.ErrScope), errors.Is(err, store.ErrInvalidValue):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("rest select failed", zap.String("collection", q.Collection), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	if rows == nil {
		rows = []model.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseQuery(collection string, params url.Values) (model.Query, error) {
	q := model.Query{Collection: collection, OrgID: params.Get("org_id")}
	if q.OrgID == "" {
		return q, fmt.Errorf("org_id is required")
	}
	for key, values := range params {
		switch key {
		case "org_id":
		case "order":
			col, dir, _ := strings.Cut(values[0], ".")
			q.OrderBy = col
			switch dir {
			case "", "asc":
			case "desc":
				q.Desc = true
			default:
				return q, fmt.Errorf("bad order direction %q", dir)
			}
		case "limit":
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return q, fmt.Errorf("bad limit %q", values[0])
			}
			q.Limit = n
		default:
			value, ok := strings.CutPrefix(values[0], "eq.")
			if !ok {
				return q, fmt.Errorf("filter %s: only eq. is supported", key)
			}
			q.Filters = append(q.Filters, model.Eq{Column: key, Value: value})
		}
	}
	return q, nil
}
