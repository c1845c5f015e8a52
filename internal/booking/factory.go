package booking

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory store seeded with the demo hotels.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		s := NewInMemoryStore()
		if err := SeedDemoData(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
