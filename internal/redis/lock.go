package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	Client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{Client: client, prefix: prefix}
}

const lockTTL = 2 * time.Minute

func (r *Redis) lockKey(orderID string) string {
	return fmt.Sprintf("%s:checkout_lock:%s", r.prefix, orderID)
}

// AcquireCheckout locks an order for checkout. owner is stored as the value
// so only the holder can release it. The lock expires on its own after lockTTL.
func (r *Redis) AcquireCheckout(ctx context.Context, orderID, owner string) (bool, error) {
	return r.Client.SetNX(ctx, r.lockKey(orderID), owner, lockTTL).Result()
}

// ReleaseCheckout unlocks an order if owner still holds the lock.
func (r *Redis) ReleaseCheckout(ctx context.Context, orderID, owner string) error {
	key := r.lockKey(orderID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already unlocked
	}
	if err != nil {
		return err
	}
	if val == owner {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil // do not unlock if held by someone else
}
