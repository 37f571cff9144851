package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the server accepts a request. The publishing
// context carries the request ID.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted once the response has been written.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// GraphQLStart is emitted before the gateway runs a client operation.
// OperationType is empty when the document could not be parsed.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
	Cached        bool
}

// GraphQLFinish is emitted after a client operation completes, carrying the
// errors returned to the client.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
