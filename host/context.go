package host

import "context"

type loopKey struct{}

// WithLoop returns a context carrying l.
func WithLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, loopKey{}, l)
}

// FromContext returns the loop stored by WithLoop.
func FromContext(ctx context.Context) (*Loop, bool) {
	l, ok := ctx.Value(loopKey{}).(*Loop)
	return l, ok && l != nil
}
