package jobqueue

import (
	"context"

	"golang.org/x/net/trace"
)

type traceKey struct{}

// withTrace attaches a new golang.org/x/net/trace event log to ctx, in the
// style resolver.go's addTrace expects one to already be present on the
// incoming request context.
func withTrace(ctx context.Context, family, title string) (context.Context, func()) {
	var tr = trace.New(family, title)
	return context.WithValue(ctx, traceKey{}, tr), tr.Finish
}

// addTrace appends a lazily-formatted line to ctx's trace, if any, mirroring
// dwarri-gazette's consumer/resolver.go addTrace helper.
func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := ctx.Value(traceKey{}).(trace.Trace); ok {
		tr.LazyPrintf(format, args...)
	}
}

// addTraceError marks ctx's trace as errored, in addition to logging a line.
func addTraceError(ctx context.Context, err error) {
	if tr, ok := ctx.Value(traceKey{}).(trace.Trace); ok {
		tr.LazyPrintf("error: %v", err)
		tr.SetError()
	}
}
