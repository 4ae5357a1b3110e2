package shared

import "context"

type progressKey struct{}

// ProgressFunc receives a 0-100 progress value from a running executor.
type ProgressFunc func(percent int)

// WithProgress attaches a progress sink to ctx.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress forwards percent to the sink attached to ctx, if any.
// Values are clamped to [0, 100].
func ReportProgress(ctx context.Context, percent int) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok || fn == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	fn(percent)
}
