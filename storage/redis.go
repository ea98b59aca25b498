package storage

import (
	"context"
	"time"

	"github.com/dmaretti/storefront/config"
	"github.com/redis/go-redis/v9"
)

const cartKeyPrefix = "cart:"

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(cfg config.Redis) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Redis{client: client, ttl: cfg.CartTTL}
}

func (r *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, cartKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "load", Err: err}
	}
	return data, nil
}

func (r *Redis) Save(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, cartKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, cartKeyPrefix+key).Err(); err != nil {
		return &Error{Op: "delete", Err: err}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
