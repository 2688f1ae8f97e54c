package rate

import (
	"context"
	"strings"
	"time"
)

// Limiter counts attempts per key in fixed windows. retryAfter is set when
// the attempt is refused.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// Key builds a limiter key scoped to one endpoint, e.g. Key("login", ip).
func Key(scope string, parts ...string) string {
	var b strings.Builder
	b.WriteString(scope)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.ToLower(strings.TrimSpace(p)))
	}
	return b.String()
}
