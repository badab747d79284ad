// Package kvstoretest runs a kvstore.Redis against an in-process server.
package kvstoretest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"menuboard/internal/kvstore"
)

// New starts a miniredis server for the duration of the test and returns a
// store connected to it.
func New(t testing.TB) (*kvstore.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r := kvstore.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { _ = r.Close() })

	return r, mr
}

// Scoped returns a store scoped to contextID on a fresh server.
func Scoped(t testing.TB, contextID string) (kvstore.Store, *miniredis.Miniredis) {
	t.Helper()

	r, mr := New(t)
	return r.Scope(kvstore.ContextPrefix(contextID)), mr
}
