package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis serializes capacity checks across service instances: a
// reservation for an item option holds the option lock while it counts
// and inserts, so two checkouts racing for the last slot line up.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

func (r *Redis) lockTTL() time.Duration {
	defaultTTL := 30 * time.Second

	ttlStr := os.Getenv("OPTION_LOCK_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}
	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		r.Logger.Println("REDIS: invalid OPTION_LOCK_TTL_SECONDS value '" + ttlStr + "', using default 30s")
		return defaultTTL
	}
	return time.Duration(ttlSec) * time.Second
}

// LockOption takes the reservation lock for an item option on behalf of
// an order. Returns false if another reservation holds it.
func (r *Redis) LockOption(optionID, orderID string) (bool, error) {
	key := "option_lock:" + optionID
	return r.Client.SetNX(context.Background(), key, orderID, r.lockTTL()).Result()
}

// UnlockOption releases the lock, but only if the given order still
// owns it.
func (r *Redis) UnlockOption(optionID, orderID string) error {
	ctx := context.Background()
	key := fmt.Sprintf("option_lock:%s", optionID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released
	}
	if err != nil {
		return err
	}
	if val == orderID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// WaitOption retries LockOption until it succeeds or the deadline
// passes.
func (r *Redis) WaitOption(optionID, orderID string, deadline time.Duration) (bool, error) {
	start := time.Now()
	for {
		ok, err := r.LockOption(optionID, orderID)
		if err != nil || ok {
			return ok, err
		}
		if time.Since(start) > deadline {
			return false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}
