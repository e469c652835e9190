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

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// TypeMemory in-process only
	TypeMemory = "memory"
	// TypeMongoDB shared MongoDB database
	TypeMongoDB = "mongodb"
	// TypeLevelDB local LevelDB directory
	TypeLevelDB = "leveldb"
)

// Conf selects and configures the stores
type Conf struct {
	Type    string      `json:"type"`
	MongoDB MongoDBConf `json:"mongodb"`
	LevelDB LevelDBConf `json:"leveldb"`
	Redis   RedisConf   `json:"redis"`
}

// Stores is the pair of stores used by the engine, which might be the same
// object for both
type Stores struct {
	Transactions TransactionStore
	Nonces       NonceStore
}

// Close closes each distinct store
func (s *Stores) Close() {
	s.Transactions.Close()
	if s.Nonces != nil && interface{}(s.Nonces) != interface{}(s.Transactions) {
		s.Nonces.Close()
	}
}

// New builds the configured stores. Nonce counters live in Redis if it is
// configured, otherwise alongside the transactions
func New(ctx context.Context, conf *Conf) (*Stores, error) {
	var stores Stores
	switch conf.Type {
	case "", TypeMemory:
		mem := NewMemoryStore()
		stores.Transactions, stores.Nonces = mem, mem
	case TypeMongoDB:
		m := NewMongoStore(&conf.MongoDB)
		if err := m.Connect(); err != nil {
			return nil, err
		}
		stores.Transactions, stores.Nonces = m, m
	case TypeLevelDB:
		l, err := NewLevelDBStore(&conf.LevelDB)
		if err != nil {
			return nil, err
		}
		stores.Transactions, stores.Nonces = l, l
	default:
		return nil, errors.Errorf(errors.ConfigStoreUnknownType, conf.Type)
	}
	if conf.Redis.Addr != "" {
		r, err := NewRedisNonceStore(ctx, &conf.Redis)
		if err != nil {
			stores.Transactions.Close()
			return nil, err
		}
		stores.Nonces = r
	}
	log.Infof("Transaction store type=%s redis=%t", conf.Type, conf.Redis.Addr != "")
	return &stores, nil
}
