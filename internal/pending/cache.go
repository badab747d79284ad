// Package pending stages tenant-creation parameters between sign-up and the
// first authenticated session.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"menuboard/internal/kvstore"
)

// Key is the storage key of the pending record within a client context.
const Key = "pending_tenant"

// Record holds what the owner chose at sign-up.
type Record struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

func (r Record) valid() bool {
	return strings.TrimSpace(r.Handle) != "" && strings.TrimSpace(r.DisplayName) != ""
}

// Cache is the single-slot pending-tenant store of one client context.
type Cache struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewCache creates a cache over a context-scoped store.
func NewCache(store kvstore.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger.With("component", "pending")}
}

// Stage writes rec, replacing any earlier record.
func (c *Cache) Stage(ctx context.Context, rec Record) error {
	if prev, ok, err := c.Read(ctx); err == nil && ok && prev != rec {
		c.logger.Warn("replacing staged tenant",
			"previous_handle", prev.Handle,
			"handle", rec.Handle)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending tenant: %w", err)
	}
	if err := c.store.SetItem(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("stage pending tenant: %w", err)
	}
	return nil
}

// Read returns the staged record. Content that cannot be decrypted or does
// not decode into a complete record is removed and reported as absent.
func (c *Cache) Read(ctx context.Context) (Record, bool, error) {
	raw, ok, err := c.store.GetItem(ctx, Key)
	if errors.Is(err, kvstore.ErrUnsealable) {
		c.discard(ctx, err)
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read pending tenant: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || !rec.valid() {
		c.discard(ctx, err)
		return Record{}, false, nil
	}

	return rec, true, nil
}

func (c *Cache) discard(ctx context.Context, cause error) {
	c.logger.Warn("discarding corrupt pending tenant", "error", cause)
	if err := c.Clear(ctx); err != nil {
		c.logger.Error("failed to clear corrupt pending tenant", "error", err)
	}
}

// Clear removes the staged record. Clearing an empty cache is not an error.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.RemoveItem(ctx, Key); err != nil {
		return fmt.Errorf("clear pending tenant: %w", err)
	}
	return nil
}
