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
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	ldbTxPrefix    = "tx/"
	ldbNoncePrefix = "nonce/"
)

// LevelDBConf is the config for a local LevelDB store
type LevelDBConf struct {
	Path string `json:"path"`
}

// LevelDBStore holds transactions as JSON and nonce counters as decimal
// strings. A single mutex makes each read-modify-write atomic
type LevelDBStore struct {
	path string
	mux  sync.Mutex
	db   *leveldb.DB
	now  func() time.Time
}

// NewLevelDBStore opens (creating if required) the database at the path
func NewLevelDBStore(conf *LevelDBConf) (*LevelDBStore, error) {
	if conf.Path == "" {
		return nil, errors.Errorf(errors.ConfigStoreMissingLevelDB)
	}
	db, err := leveldb.OpenFile(conf.Path, nil)
	if err != nil {
		return nil, errors.Errorf(errors.TransactionStoreLevelDBOpen, conf.Path, err)
	}
	log.Infof("Opened LevelDB transaction store at %s", conf.Path)
	return &LevelDBStore{
		path: conf.Path,
		db:   db,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *LevelDBStore) warnIfErr(op, key string, err error) {
	if err != nil && err != leveldb.ErrNotFound {
		log.Warnf("LDB %s %s '%s' failed: %s", l.path, op, key, err)
	}
}

func (l *LevelDBStore) read(id string) (*Transaction, error) {
	key := ldbTxPrefix + id
	b, err := l.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		l.warnIfErr("Get", key, err)
		return nil, errors.Errorf(errors.TransactionStoreFailed, "get", err)
	}
	var tx Transaction
	if err := json.Unmarshal(b, &tx); err != nil {
		return nil, errors.Errorf(errors.TransactionSerialize, id, err)
	}
	return &tx, nil
}

func (l *LevelDBStore) write(tx *Transaction) error {
	b, err := json.Marshal(tx)
	if err != nil {
		return errors.Errorf(errors.TransactionSerialize, tx.ID, err)
	}
	key := ldbTxPrefix + tx.ID
	if err := l.db.Put([]byte(key), b, nil); err != nil {
		l.warnIfErr("Put", key, err)
		return errors.Errorf(errors.TransactionStoreFailed, "put", err)
	}
	return nil
}

func (l *LevelDBStore) Create(ctx context.Context, tx *Transaction) (*Transaction, bool, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	existing, err := l.read(tx.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	stored := prepareCreate(tx, l.now())
	if err := l.write(stored); err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (l *LevelDBStore) Get(ctx context.Context, id string) (*Transaction, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.read(id)
}

func (l *LevelDBStore) scan() ([]*Transaction, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(ldbTxPrefix)), nil)
	defer it.Release()
	txs := make([]*Transaction, 0)
	for it.Next() {
		var tx Transaction
		if err := json.Unmarshal(it.Value(), &tx); err != nil {
			log.Warnf("LDB %s skipping unparsable record '%s': %s", l.path, it.Key(), err)
			continue
		}
		txs = append(txs, &tx)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Errorf(errors.TransactionStoreFailed, "scan", err)
	}
	return txs, nil
}

func (l *LevelDBStore) ListPending(ctx context.Context) ([]*Transaction, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	pending := make([]*Transaction, 0, len(all))
	for _, tx := range all {
		if tx.Status == StatusPending {
			pending = append(pending, tx)
		}
	}
	sortPending(pending)
	return pending, nil
}

func (l *LevelDBStore) mutate(id string, fn func(tx *Transaction) error) (*Transaction, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	tx, err := l.read(id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.Errorf(errors.TransactionNotFound, id)
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := l.write(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (l *LevelDBStore) UpdateHash(ctx context.Context, id, hash string) error {
	_, err := l.mutate(id, func(tx *Transaction) error {
		tx.Hash = hash
		tx.UpdatedAt = l.now()
		return nil
	})
	return err
}

func (l *LevelDBStore) UpdateOnReceipt(ctx context.Context, id string, receipt *eth.Receipt) error {
	_, err := l.mutate(id, func(tx *Transaction) error {
		return applyReceipt(tx, receipt, l.now())
	})
	return err
}

func (l *LevelDBStore) IncrementAttempts(ctx context.Context, id string) error {
	_, err := l.mutate(id, func(tx *Transaction) error {
		tx.Attempts++
		tx.UpdatedAt = l.now()
		return nil
	})
	return err
}

func (l *LevelDBStore) AssignNonce(ctx context.Context, id string, nonce uint64) (*Transaction, error) {
	return l.mutate(id, func(tx *Transaction) error {
		return applyNonce(tx, nonce, l.now())
	})
}

func (l *LevelDBStore) ClearNonce(ctx context.Context, id string) error {
	_, err := l.mutate(id, func(tx *Transaction) error {
		tx.Nonce = nil
		tx.UpdatedAt = l.now()
		return nil
	})
	return err
}

func (l *LevelDBStore) HighestPendingNonce(ctx context.Context, from string) (*uint64, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	return highestNonce(all, from), nil
}

func (l *LevelDBStore) GetAndIncrement(ctx context.Context, address string) (uint64, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	key := []byte(ldbNoncePrefix + address)
	var nonce uint64
	b, err := l.db.Get(key, nil)
	switch err {
	case nil:
		if nonce, err = strconv.ParseUint(string(b), 10, 64); err != nil {
			return 0, errors.Errorf(errors.NonceAllocationFailed, address, err)
		}
	case leveldb.ErrNotFound:
		log.Infof("Initializing nonce counter for %s", address)
	default:
		l.warnIfErr("Get", string(key), err)
		return 0, errors.Errorf(errors.NonceAllocationFailed, address, err)
	}
	if err := l.db.Put(key, []byte(strconv.FormatUint(nonce+1, 10)), nil); err != nil {
		l.warnIfErr("Put", string(key), err)
		return 0, errors.Errorf(errors.NonceAllocationFailed, address, err)
	}
	return nonce, nil
}

func (l *LevelDBStore) ForceSet(ctx context.Context, address string, nonce uint64) error {
	l.mux.Lock()
	defer l.mux.Unlock()
	key := ldbNoncePrefix + address
	if err := l.db.Put([]byte(key), []byte(strconv.FormatUint(nonce, 10)), nil); err != nil {
		l.warnIfErr("Put", key, err)
		return errors.Errorf(errors.NonceResetFailed, address, err)
	}
	return nil
}

func (l *LevelDBStore) Close() {
	l.db.Close()
}
