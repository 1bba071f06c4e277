package mirror

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisMirror persists the stock snapshot under a single namespaced key so
// the offline copy survives process restarts and is shared across replicas.
type RedisMirror struct {
	client    *redis.Client
	namespace string
}

func NewRedisMirror(addr string, password string, db int, namespace string) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMirror{client: client, namespace: namespace}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) key() string {
	return m.namespace + ":snapshot"
}

func (m *RedisMirror) Load(ctx context.Context) (Snapshot, bool, error) {
	val, err := m.client.Get(ctx, m.key()).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (m *RedisMirror) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(), payload, 0).Err()
}
