// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package txstore

import (
	"context"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const defaultRedisKeyPrefix = "ethtxsubmit:nonce:"

// RedisConf configures Redis as the nonce counter store, in front of any
// transaction store
type RedisConf struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// redisCmdable is the subset of the go-redis client that we use, allowing stubbing
type redisCmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisNonceStore uses INCR, which creates the key at zero on first use, so
// the first-use path needs no extra guard
type RedisNonceStore struct {
	client redisCmdable
	prefix string
}

// NewRedisNonceStore connects and pings the server
func NewRedisNonceStore(ctx context.Context, conf *RedisConf) (*RedisNonceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	return newRedisNonceStore(ctx, conf, client)
}

func newRedisNonceStore(ctx context.Context, conf *RedisConf, client redisCmdable) (*RedisNonceStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Errorf(errors.TransactionStoreRedisConnect, conf.Addr, err)
	}
	prefix := conf.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	log.Infof("Connected to Redis on %s DB=%d for nonce counters", conf.Addr, conf.DB)
	return &RedisNonceStore{client: client, prefix: prefix}, nil
}

func (r *RedisNonceStore) GetAndIncrement(ctx context.Context, address string) (uint64, error) {
	next, err := r.client.Incr(ctx, r.prefix+address).Result()
	if err != nil {
		return 0, errors.Errorf(errors.NonceAllocationFailed, address, err)
	}
	return uint64(next - 1), nil
}

func (r *RedisNonceStore) ForceSet(ctx context.Context, address string, nonce uint64) error {
	if err := r.client.Set(ctx, r.prefix+address, nonce, 0).Err(); err != nil {
		return errors.Errorf(errors.NonceResetFailed, address, err)
	}
	return nil
}

func (r *RedisNonceStore) Close() {
	if err := r.client.Close(); err != nil {
		log.Warnf("Redis close failed: %s", err)
	}
}
