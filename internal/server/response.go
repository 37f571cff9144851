package server

import (
	"encoding/json"
	"net/http"

	executor "github.com/hanpama/stitchgraph/internal/executor"
)

// response is the GraphQL response body. Data is omitted when execution
// never started.
type response struct {
	Data   any                     `json:"data,omitempty"`
	Errors []executor.GraphQLError `json:"errors,omitempty"`
}

func failure(message string) response {
	return response{Errors: []executor.GraphQLError{{Message: message}}}
}

func fromResult(res *executor.ExecutionResult) response {
	return response{Data: res.Data, Errors: res.Errors}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
