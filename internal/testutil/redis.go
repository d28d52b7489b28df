package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCandidates lists where a test Redis may listen: REDIS_ADDR when set, else the CI
// service name, a default local install and the compose test port.
func redisCandidates() []string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return []string{addr}
	}
	return []string{"redis:6379", "localhost:6379", "localhost:56379"}
}

func pingRedis(addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// reserveRedisDB picks the logical database for this test. TEST_REDIS_DB wins; otherwise a
// database in 1..15 is reserved with a lock key in DB 0 so parallel packages never flush
// each other's data. The reservation is released on cleanup.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("invalid TEST_REDIS_DB=%q, reserving one instead", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	lockVal := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		lockKey := fmt.Sprintf("sessionsync:testutil:db_lock:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, lockKey, lockVal, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := meta.Del(ctx, lockKey).Err(); err != nil {
				t.Logf("warning: failed to release redis db lock %s: %v", lockKey, err)
			}
			_ = meta.Close()
		})
		return i
	}

	_ = meta.Close()
	t.Logf("no free redis db at %s, sharing DB=1", addr)
	return 1
}

// SetupTestRedis returns a client on an emptied, reserved Redis database. The test is
// skipped when no Redis answers.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	var (
		addr    string
		lastErr error
	)
	for _, candidate := range redisCandidates() {
		if lastErr = pingRedis(candidate); lastErr == nil {
			addr = candidate
			break
		}
	}
	if addr == "" {
		unavailable(t, requireRedis(), "redis", lastErr)
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: reserveRedisDB(t, addr)})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		unavailable(t, requireRedis(), "redis", err)
		return nil
	}
	return client
}
