//go:build integration

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestFilterRedis(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	f := NewFilter(rdb, time.Minute)

	isNew, err := f.IsNew(ctx, "biz-1:call-42")
	if err != nil {
		t.Fatalf("IsNew() failed: %v", err)
	}
	if !isNew {
		t.Fatal("first call should be new")
	}

	isNew, err = f.IsNew(ctx, "biz-1:call-42")
	if err != nil {
		t.Fatalf("IsNew() failed: %v", err)
	}
	if isNew {
		t.Error("replayed call should not be new")
	}

	ttl, err := rdb.TTL(ctx, keyPrefix+"biz-1:call-42").Result()
	if err != nil {
		t.Fatalf("TTL() failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, want within (0, 1m]", ttl)
	}
}

func TestFilterRedisRelease(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	f := NewFilter(rdb, time.Minute)

	if isNew, err := f.IsNew(ctx, "biz-1:call-7"); err != nil || !isNew {
		t.Fatalf("IsNew() = %v, %v; want true, nil", isNew, err)
	}
	if err := f.Release(ctx, "biz-1:call-7"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if isNew, err := f.IsNew(ctx, "biz-1:call-7"); err != nil || !isNew {
		t.Errorf("IsNew() after release = %v, %v; want true, nil", isNew, err)
	}
}
