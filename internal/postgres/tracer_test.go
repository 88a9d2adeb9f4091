package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/itemdesk/internal/item/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).List", "(*Store).List"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationFromTag(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"SELECT 3":   "SELECT",
		"delete 1":   "DELETE",
		"INSERT 0 1": "INSERT",
		"":           "",
	}
	for tag, want := range tests {
		if got := operationFromTag(pgconn.NewCommandTag(tag)); got != want {
			t.Errorf("operationFromTag(%q) = %q, want %q", tag, got, want)
		}
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, total, errs := s.Snapshot()
	if count != 3 {
		t.Errorf("QueryCount = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestReqDBStatsContext(t *testing.T) {
	t.Parallel()

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}
	got.AddQuery(time.Millisecond, nil)
	again, _ := ReqDBStatsFromContext(ctx)
	if again.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", again.QueryCount)
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "POST")); got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want POST", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestHTTPMethodMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	h := HTTPMethod(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = httpMethodFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/x", nil))
	if seen != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", seen)
	}
}

func TestQueryInfo_Defaults(t *testing.T) {
	t.Parallel()

	q := queryInfo(context.Background(), "", errors.New("x"), time.Second)
	if q.Method != "UNKNOWN" || q.Route != "background" || q.Operation != "UNKNOWN" || q.Outcome != "error" {
		t.Errorf("queryInfo = %+v", q)
	}

	rctx := chi.NewRouteContext()
	rctx.RoutePatterns = []string{"/api/v1/items/{id}"}
	ctx := context.WithValue(WithHTTPMethod(context.Background(), "GET"), chi.RouteCtxKey, rctx)
	q = queryInfo(ctx, "SELECT", nil, time.Millisecond)
	if q.Method != "GET" || q.Route != "/api/v1/items/{id}" || q.Operation != "SELECT" || q.Outcome != "ok" {
		t.Errorf("queryInfo = %+v", q)
	}
}

// TestLoggingTracer mutates the global observer so it does not run in parallel.
func TestLoggingTracer(t *testing.T) {
	defer SetQueryObserver(nil)

	var got []QueryInfo
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, q QueryInfo) {
		got = append(got, q)
	}))

	tr := wrapQueryTracer(nil, 0)
	ctx := NewReqDBStatsContext(context.Background())

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1", Args: []any{"secret"}})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "DELETE FROM items"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	stats, _ := ReqDBStatsFromContext(ctx)
	if count, _, errs := stats.Snapshot(); count != 2 || errs != 1 {
		t.Errorf("stats = %d queries, %d errors, want 2, 1", count, errs)
	}
	if len(got) != 2 {
		t.Fatalf("observed %d queries, want 2", len(got))
	}
	if got[0].Operation != "SELECT" || got[0].Outcome != "ok" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Outcome != "error" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(context.Context, QueryInfo) { called = true }))
	obs := getQueryObserver()
	if obs == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	obs.ObserveQuery(context.Background(), QueryInfo{})
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}
