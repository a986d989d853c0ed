package transcript

import (
	"context"
	"strings"
)

// NewStore picks postgres when databaseURL is set, badger when dir is set,
// otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL, dir string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(dir) != "" {
		return NewBadgerStore(BadgerOptions{Dir: dir})
	}
	return NewInMemoryStore(), nil
}
