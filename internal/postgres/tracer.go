package postgres

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

type ctxKey int

const (
	ctxKeyQuery ctxKey = iota
	ctxKeyHTTPMethod
	ctxKeyStats
)

type queryObserverHolder struct{ QueryObserver }

// queryStart is what TraceQueryStart hands to TraceQueryEnd.
type queryStart struct {
	sql     string
	nargs   int
	start   time.Time
	caller  string
	handler string
}

// ReqDBStats accumulates per-request database query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the current totals.
func (s *ReqDBStats) Snapshot() (count int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyStats, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(ctxKeyStats).(*ReqDBStats)
	return s, ok
}

// QueryObserver receives per-query measurements (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, q QueryInfo)
}

// QueryInfo labels a single finished query.
type QueryInfo struct {
	Method    string // HTTP method of the request that issued it, or UNKNOWN
	Route     string // chi route pattern, or "background" outside a request
	Operation string // first word of the command tag, e.g. SELECT
	Outcome   string // ok or error
	Duration  time.Duration
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, q QueryInfo)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, q QueryInfo) {
	f(ctx, q)
}

// SetQueryObserver sets the global query observer. Nil disables observation.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

// HTTPMethod is middleware that stashes the request method for query metrics labelling.
func HTTPMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithHTTPMethod(r.Context(), r.Method)))
	})
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyHTTPMethod).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and logs every query.
// Query arguments are never logged: several statements carry token hashes.
type loggingTracer struct {
	inner     pgx.QueryTracer
	slowQuery time.Duration
}

func wrapQueryTracer(inner pgx.QueryTracer, slowQuery time.Duration) pgx.QueryTracer {
	return loggingTracer{inner: inner, slowQuery: slowQuery}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{
		sql:   data.SQL,
		nargs: len(data.Args),
		start: time.Now(),
	}
	qs.caller, qs.handler = findDBCallerAndHandler()

	// inner tracer opens the span first so the attributes below land on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if qs.caller != "" {
			span.SetAttributes(attribute.String("db.caller", qs.caller))
		}
		if qs.handler != "" {
			span.SetAttributes(attribute.String("db.handler", qs.handler))
		}
	}

	return context.WithValue(ctx, ctxKeyQuery, qs)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(ctxKeyQuery).(*queryStart)
	if qs == nil {
		qs = &queryStart{}
	}

	var dur time.Duration
	if !qs.start.IsZero() {
		dur = time.Since(qs.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	op := operationFromTag(data.CommandTag)

	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, queryInfo(ctx, op, data.Err, dur))
	}

	if data.Err == nil && t.slowQuery > 0 && dur < t.slowQuery {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.arg_count", qs.nargs,
		"db.duration", dur.Seconds(),
	}
	if op != "" {
		fields = append(fields,
			"db.operation.name", op,
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if qs.handler != "" {
		fields = append(fields, "db.handler", qs.handler)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func queryInfo(ctx context.Context, op string, err error, dur time.Duration) QueryInfo {
	q := QueryInfo{
		Method:    httpMethodFromContext(ctx),
		Route:     routePatternFromContext(ctx),
		Operation: op,
		Outcome:   "ok",
		Duration:  dur,
	}
	if q.Method == "" {
		q.Method = "UNKNOWN"
	}
	if q.Route == "" {
		q.Route = "background"
	}
	if q.Operation == "" {
		q.Operation = "UNKNOWN"
	}
	if err != nil {
		q.Outcome = "error"
	}
	return q
}

func operationFromTag(tag pgconn.CommandTag) string {
	fields := strings.Fields(tag.String())
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store function actually issuing the query
//   - handler: the next meaningful frame above that (service or HTTP handler)
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "loggingTracer.TraceQuery"):
		case caller == "":
			caller = shortenFuncName(fn)
		case strings.Contains(fn, "/internal/item/pgstore."),
			strings.Contains(fn, "/internal/identity/pgprofiles."),
			strings.Contains(fn, "/internal/postgres."):
			// store-level helpers above the caller
		default:
			return caller, shortenFuncName(fn)
		}

		if !more {
			return caller, handler
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
