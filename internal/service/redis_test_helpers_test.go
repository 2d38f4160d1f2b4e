package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisClientForTest returns a miniredis-backed client typed the way the
// engine's stores accept it.
func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{server.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

// breakRedis closes the server so subsequent commands fail like an outage.
func breakRedis(t *testing.T, server *miniredis.Miniredis) {
	t.Helper()
	server.Close()
}
