package capability

import (
	"context"

	"github.com/google/uuid"
)

// WithPlugin acquires a plugin for sourceAccountID, runs fn, and releases
// the plugin on every exit path including a panic — the mandatory scoped
// lifetime called out in Design Notes ("Plugin lifetime"). A leaked
// plugin stalls the streaming backend, so release always runs via defer,
// before any error or panic from fn propagates.
func WithPlugin(ctx context.Context, factory PluginFactory, sourceAccountID uuid.UUID, fn func(Plugin) error) error {
	p, err := factory.OpenPlugin(ctx, sourceAccountID)
	if err != nil {
		return err
	}
	defer func() {
		_ = factory.ClosePlugin(ctx, p)
	}()
	return fn(p)
}
