package store

import (
	"context"

	"github.com/dmorgan81/fluxlab/internal/log"
)

type Invalidator interface {
	Invalidate(context.Context, []string) error
}

// NopInvalidator is used when no CDN sits in front of the store.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log.FromContextOrDiscard(ctx).Debug("no cdn configured, skipping invalidation", "paths", paths)
	return nil
}
