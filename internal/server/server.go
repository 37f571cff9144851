// Package server exposes a QueryHandler as a GraphQL-over-HTTP endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	executor "github.com/hanpama/stitchgraph/internal/executor"
	forward "github.com/hanpama/stitchgraph/internal/forward"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	reqid "github.com/hanpama/stitchgraph/internal/reqid"
	"go.uber.org/zap"
)

// QueryHandler runs one GraphQL operation. Failures are part of the result.
type QueryHandler interface {
	HandleQuery(ctx context.Context, req *registry.Request) *executor.ExecutionResult
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc func(ctx context.Context, req *registry.Request) *executor.ExecutionResult

func (f QueryHandlerFunc) HandleQuery(ctx context.Context, req *registry.Request) *executor.ExecutionResult {
	return f(ctx, req)
}

type options struct {
	timeout        time.Duration
	pretty         bool
	maxBodyBytes   int64
	corsOrigins    []string
	forwardHeaders []string
	graphiql       bool
	logger         *zap.Logger
}

type Option func(*options)

// WithTimeout bounds requests that arrive without a deadline. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithPretty indents JSON responses.
func WithPretty() Option { return func(o *options) { o.pretty = true } }

// WithMaxBodyBytes rejects POST bodies larger than n with 413.
func WithMaxBodyBytes(n int64) Option { return func(o *options) { o.maxBodyBytes = n } }

// WithCORS allows cross-origin requests from origins; "*" allows any.
func WithCORS(origins ...string) Option { return func(o *options) { o.corsOrigins = origins } }

// WithForwardHeaders passes the named client headers on to remote schemas.
func WithForwardHeaders(headers ...string) Option {
	return func(o *options) { o.forwardHeaders = headers }
}

// WithGraphiQL serves the IDE to browsers that GET the endpoint.
func WithGraphiQL(enable bool) Option { return func(o *options) { o.graphiql = enable } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// Handler serves GraphQL over HTTP: GET and POST, JSON bodies, batches of
// operations, CORS and an optional GraphiQL page.
type Handler struct {
	queries QueryHandler
	opt     options
}

func New(queries QueryHandler, opts ...Option) (*Handler, error) {
	if queries == nil {
		return nil, errors.New("server: nil query handler")
	}
	o := options{timeout: 10 * time.Second, graphiql: true}
	for _, f := range opts {
		f(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Handler{queries: queries, opt: o}, nil
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.timeout)
		defer cancel()
	}
	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	rw.Header().Set(reqid.Header, rid)

	w := &statusWriter{ResponseWriter: rw}
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		if p := recover(); p != nil {
			h.opt.logger.Error("panic serving graphql request",
				zap.String("request_id", rid),
				zap.Any("panic", p),
				zap.Stack("stack"))
			if w.status == 0 {
				h.fail(w, http.StatusInternalServerError, "internal server error")
			}
		}
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: w.code(), Duration: time.Since(start)})
	}()

	h.cors(w, r)
	switch {
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case r.Method != http.MethodGet && r.Method != http.MethodPost:
		h.fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	case r.Method == http.MethodGet && h.opt.graphiql && r.URL.Query().Get("query") == "" && wantsHTML(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(renderGraphiQL(r.URL.Path))
		return
	}

	reqs, batched, err := decodeRequest(r, h.opt.maxBodyBytes)
	if err != nil {
		var bad *requestError
		if errors.As(err, &bad) {
			h.fail(w, bad.status, bad.message)
			return
		}
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx = forward.NewContext(ctx, forward.Select(r.Header, h.opt.forwardHeaders))
	results := make([]response, len(reqs))
	for i, req := range reqs {
		results[i] = h.run(ctx, req)
	}
	if batched {
		writeJSON(w, http.StatusOK, results, h.opt.pretty)
		return
	}
	writeJSON(w, http.StatusOK, results[0], h.opt.pretty)
}

func (h *Handler) run(ctx context.Context, req request) response {
	if req.Query == "" {
		return failure("missing 'query'")
	}
	return fromResult(h.queries.HandleQuery(ctx, &registry.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	}))
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, failure(message), h.opt.pretty)
}

// cors sets the allow headers when the request origin is permitted.
func (h *Handler) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opt.corsOrigins) == 0 {
		return
	}
	switch {
	case slices.Contains(h.opt.corsOrigins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(h.opt.corsOrigins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	default:
		return
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
}

func wantsHTML(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "text/html") || part == "*/*" {
			return true
		}
	}
	return false
}

// statusWriter remembers the status code for the finish event.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
