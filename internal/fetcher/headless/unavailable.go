package headless

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned by Unavailable for every fetch.
var ErrUnavailable = errors.New("headless browser unavailable")

// Unavailable stands in for the browser on hosts without Chrome. Every fetch
// fails, so submitted jobs still finish with status error and a readable reason.
type Unavailable struct {
	Reason string
}

// Fetch reports ErrUnavailable for url, wrapped with the configured reason.
func (u Unavailable) Fetch(ctx context.Context, url string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("headless fetch canceled: %w", err)
	}
	if u.Reason == "" {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrUnavailable)
	}
	return nil, fmt.Errorf("fetch %s: %w: %s", url, ErrUnavailable, u.Reason)
}
