package redis

import (
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestLockKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	r := NewRedis(client, "table-service")
	assert.Equal(t, "table-service:checkout_lock:ORD-1", r.lockKey("ORD-1"))
}
