package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	forward "github.com/hanpama/stitchgraph/internal/forward"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	reqid "github.com/hanpama/stitchgraph/internal/reqid"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes bounds a single remote response body.
const maxResponseBytes = 64 << 20

// sharedClient is used by every remote schema unless WithHTTPClient is given,
// so connections to the same host are pooled across schemas and requests.
var sharedClient = &http.Client{
	Transport: otelhttp.NewTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}),
}

// StatusError is returned when a remote answers with a non-2xx status and no
// GraphQL body.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Executor forwards operations to a GraphQL endpoint over HTTP.
type Executor struct {
	url     string
	client  *http.Client
	headers http.Header
	timeout time.Duration
}

var _ registry.Executor = (*Executor)(nil)

// NewExecutor returns an executor posting to url.
func NewExecutor(url string, opts ...Option) *Executor {
	cfg := newConfig(opts)
	return &Executor{url: url, client: cfg.client, headers: cfg.headers, timeout: cfg.timeout}
}

func (e *Executor) URL() string { return e.url }

type wireError struct {
	Message    string              `json:"message"`
	Locations  []executor.Location `json:"locations"`
	Path       []any               `json:"path"`
	Extensions map[string]any      `json:"extensions"`
}

type wireResponse struct {
	Data   any         `json:"data"`
	Errors []wireError `json:"errors"`
}

// Execute posts req and decodes the GraphQL response. Numbers in data are
// kept as json.Number so they are written back out unchanged.
func (e *Executor) Execute(ctx context.Context, req *registry.Request) (*executor.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	status, raw, err := e.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp wireResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		if !isSuccess(status) {
			return nil, &StatusError{URL: e.url, StatusCode: status, Body: snippet(raw)}
		}
		return nil, fmt.Errorf("decode response from %s: %w", e.url, err)
	}
	if !isSuccess(status) && resp.Data == nil && len(resp.Errors) == 0 {
		return nil, &StatusError{URL: e.url, StatusCode: status, Body: snippet(raw)}
	}

	result := &executor.ExecutionResult{Data: resp.Data}
	for _, we := range resp.Errors {
		result.Errors = append(result.Errors, executor.GraphQLError{
			Message:    we.Message,
			Locations:  we.Locations,
			Path:       decodePath(we.Path),
			Extensions: we.Extensions,
		})
	}
	return result, nil
}

// post sends body and returns the status code and response body.
func (e *Executor) post(ctx context.Context, body []byte) (int, []byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	forward.Apply(ctx, httpReq.Header)
	for name, values := range e.headers {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if rid, ok := reqid.FromContext(ctx); ok {
		httpReq.Header.Set(reqid.Header, rid)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response from %s: %w", e.url, err)
	}
	return resp.StatusCode, raw, nil
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func snippet(raw []byte) string {
	const limit = 256
	s := string(bytes.TrimSpace(raw))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// decodePath turns JSON path elements into response path elements; list
// indices arrive as json.Number.
func decodePath(raw []any) executor.Path {
	if len(raw) == 0 {
		return nil
	}
	path := make(executor.Path, 0, len(raw))
	for _, el := range raw {
		switch v := el.(type) {
		case json.Number:
			if i, err := strconv.Atoi(v.String()); err == nil {
				path = append(path, i)
				continue
			}
			path = append(path, v.String())
		default:
			path = append(path, v)
		}
	}
	return path
}
