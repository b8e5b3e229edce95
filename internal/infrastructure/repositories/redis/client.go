package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaKey = "studyroom:schema_version"
const schemaVersion = "1"

// NewRedisClient creates a new Redis client with connection pooling
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Refuse to start against a keyspace written by an incompatible version
	stored, err := client.Get(ctx, schemaKey).Result()
	switch {
	case err == redis.Nil:
		if err := client.Set(ctx, schemaKey, schemaVersion, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to set schema version: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	case stored != schemaVersion:
		return nil, fmt.Errorf("incompatible Redis schema version %s (want %s)", stored, schemaVersion)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", address,
			"db", db,
			"pool_size", poolSize,
		)
	}

	return client, nil
}

// CloseRedisClient closes the Redis client connection
func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
