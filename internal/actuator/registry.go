package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MemoryRegistry keeps device status in process memory.
type MemoryRegistry struct {
	mu     sync.RWMutex
	status map[string]Command
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{status: make(map[string]Command)}
}

func (m *MemoryRegistry) LastStatus(ctx context.Context, deviceID string) (Command, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.status[deviceID]
	return cmd, ok, nil
}

func (m *MemoryRegistry) Record(ctx context.Context, deviceID string, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[deviceID] = cmd
	return nil
}

const statusKeyPrefix = "farm:actuator:status:"

// RedisRegistry shares device status between worker processes.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// DialRedis connects and pings the configured server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisRegistry) LastStatus(ctx context.Context, deviceID string) (Command, bool, error) {
	val, err := r.client.Get(ctx, statusKeyPrefix+deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get device status: %w", err)
	}
	switch Command(val) {
	case CommandOn, CommandOff:
		return Command(val), true, nil
	}
	return "", false, nil
}

func (r *RedisRegistry) Record(ctx context.Context, deviceID string, cmd Command) error {
	if err := r.client.Set(ctx, statusKeyPrefix+deviceID, string(cmd), 0).Err(); err != nil {
		return fmt.Errorf("failed to record device status: %w", err)
	}
	return nil
}
