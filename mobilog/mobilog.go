// Package mobilog centralizes the nil-safe logger convention used across the
// codec: every component takes an optional *zap.Logger and falls back to a
// no-op so the library stays silent unless a caller opts in.
package mobilog

import "go.uber.org/zap"

// Or returns l, or a no-op logger if l is nil.
func Or(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
