package events

import "time"

// DelegationStart is emitted before a sub-query is sent to a source schema.
// ID pairs it with the matching DelegationFinish.
type DelegationStart struct {
	ID            uint64
	Schema        string
	Field         string
	OperationType string
	Query         string
}

// DelegationFinish is emitted after a sub-query returns. Err is set on
// transport failure; GraphQL errors in the sub-result are counted.
type DelegationFinish struct {
	ID            uint64
	Schema        string
	Field         string
	OperationType string
	ErrorCount    int
	Err           error
	Duration      time.Duration
}

// IntrospectionAttempt is emitted after each attempt to introspect a remote
// schema at startup.
type IntrospectionAttempt struct {
	Schema   string
	URL      string
	Attempt  int
	Err      error
	Duration time.Duration
}
