// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the ledger document.
const DefaultRedisKey = "deepresearch:usage"

// maxTxRetries bounds optimistic-lock retries when another writer wins.
const maxTxRetries = 10

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore persists the ledger document under one key, using WATCH/MULTI
// so concurrent writers on any host are serialized.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("usage: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewRedisStoreFromClient(client, opts.Key), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) get(ctx context.Context, cmd redis.Cmdable) (Records, error) {
	data, err := cmd.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(Records), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	return decodeRecords(data), nil
}

// View implements Store.
func (s *RedisStore) View(ctx context.Context, fn func(Records) error) error {
	recs, err := s.get(ctx, s.client)
	if err != nil {
		return err
	}
	return fn(recs)
}

// Transact implements Store.
func (s *RedisStore) Transact(ctx context.Context, fn func(Records) error) error {
	var fnErr error
	txf := func(tx *redis.Tx) error {
		recs, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if fnErr = fn(recs); fnErr != nil {
			return fnErr
		}
		data, err := encodeRecords(recs)
		if err != nil {
			return fmt.Errorf("encode usage ledger: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && err != fnErr {
			return fmt.Errorf("write usage ledger: %w", err)
		}
		return err
	}
	return fmt.Errorf("write usage ledger: %w", redis.TxFailedErr)
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
