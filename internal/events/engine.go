package events

import "time"

// QueryStart is emitted before resolving a read request.
type QueryStart struct {
	Entity    string
	Operation string // "list" or "retrieve"
	RawQuery  string
}

// QueryFinish is emitted after a read request resolves.
type QueryFinish struct {
	Entity    string
	Operation string
	RawQuery  string
	Err       error
	Duration  time.Duration
}

// MutationStart is emitted before a nested create or update runs.
type MutationStart struct {
	Entity    string
	Operation string // "create" or "update"
}

// MutationFinish is emitted after a nested create or update completes.
type MutationFinish struct {
	Entity    string
	Operation string
	Err       error
	Duration  time.Duration
}
