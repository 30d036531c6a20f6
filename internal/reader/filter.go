// Package reader implements the three read modes bridging durable KV scans
// with a live Streamer's broadcast: by seq_num, by timestamp, and tailing.
package reader

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/record"
)

// predicate wraps a compiled CEL program evaluated per decoded record before
// it counts against a caller's limit. Generalized from the teacher's
// pub/sub celFilter to the seq/timestamp/size/headers vocabulary this
// package's callers care about; when disabled, Eval always returns true.
type predicate struct {
	prog    cel.Program
	enabled bool
}

func newPredicate(expr string) (predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return predicate{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("seq", cel.IntType),
		cel.Variable("timestamp_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return predicate{}, apierr.Wrap(apierr.KindInvalidArgument, "build CEL environment", err)
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return predicate{}, apierr.Wrap(apierr.KindInvalidArgument, "parse CEL filter", iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return predicate{}, apierr.Wrap(apierr.KindInvalidArgument, "check CEL filter", iss2.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return predicate{}, apierr.Wrap(apierr.KindInvalidArgument, "compile CEL filter", err)
	}
	return predicate{prog: prog, enabled: true}, nil
}

// eval reports whether r passes the predicate. A disabled predicate always
// passes; an evaluation error is treated as non-matching rather than fatal,
// mirroring the teacher's celFilter.Eval fail-closed behavior.
func (p predicate) eval(r record.Record) bool {
	if !p.enabled {
		return true
	}
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[string(h.Name)] = string(h.Value)
	}
	out, _, err := p.prog.Eval(map[string]any{
		"seq":          int64(r.SeqNum),
		"timestamp_ms": int64(r.TimestampMs),
		"size":         int64(len(r.Body)),
		"headers":      headers,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
