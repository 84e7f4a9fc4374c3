// Package coordinationtest spins up an in-process Redis for package tests.
package coordinationtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/search-crawler/internal/coordination"
)

// New starts a miniredis server bound to t and returns a Client connected to it.
func New(t testing.TB) (*coordination.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return coordination.NewWithRedis(rdb), srv
}
