package testing

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// StartRedis starts an in-process Redis server and returns it with a client.
//
// The server implements enough of Redis, including EVAL with Lua scripts, to
// run the redis lease store. Both are closed through t.Cleanup.
//
// Example:
//
//	func TestRedisStore(t *testing.T) {
//	    mr, client := lftest.StartRedis(t)
//	    mr.FastForward(time.Minute) // advance server time
//	}
func StartRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}
