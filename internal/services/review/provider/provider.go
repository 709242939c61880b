// Package provider defines the transcript judging boundary. Implementations
// return the raw judgment payload; normalization and validation happen in the
// analysis package so a misbehaving provider can never write a malformed
// record.
package provider

import (
	"context"
	"encoding/json"
)

// Input carries the session material a judgment is produced from.
type Input struct {
	Transcript      string
	AssignedConcept string
}

// Provider produces one raw judgment payload per transcript.
type Provider interface {
	Judge(ctx context.Context, input Input) (json.RawMessage, error)
}
