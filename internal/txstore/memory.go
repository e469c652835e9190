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
	"sync"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	log "github.com/sirupsen/logrus"
)

// MemoryStore keeps transactions and nonce counters in memory. Used in
// tests, and for development against a throwaway chain
type MemoryStore struct {
	mux    sync.Mutex
	txs    map[string]*Transaction
	nonces map[string]uint64
	now    func() time.Time
}

// NewMemoryStore constructs an empty store
func NewMemoryStore() *MemoryStore {
	log.Debugf("Memory transaction store created")
	return &MemoryStore{
		txs:    make(map[string]*Transaction),
		nonces: make(map[string]uint64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) (*Transaction, bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if existing, ok := m.txs[tx.ID]; ok {
		return existing.Copy(), false, nil
	}
	stored := prepareCreate(tx, m.now())
	m.txs[tx.ID] = stored
	return stored.Copy(), true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if tx, ok := m.txs[id]; ok {
		return tx.Copy(), nil
	}
	return nil, nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*Transaction, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	pending := make([]*Transaction, 0)
	for _, tx := range m.txs {
		if tx.Status == StatusPending {
			pending = append(pending, tx.Copy())
		}
	}
	sortPending(pending)
	return pending, nil
}

func (m *MemoryStore) mutate(id string, fn func(tx *Transaction) error) (*Transaction, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, errors.Errorf(errors.TransactionNotFound, id)
	}
	updated := tx.Copy()
	if err := fn(updated); err != nil {
		return nil, err
	}
	m.txs[id] = updated
	return updated.Copy(), nil
}

func (m *MemoryStore) UpdateHash(ctx context.Context, id, hash string) error {
	_, err := m.mutate(id, func(tx *Transaction) error {
		tx.Hash = hash
		tx.UpdatedAt = m.now()
		return nil
	})
	return err
}

func (m *MemoryStore) UpdateOnReceipt(ctx context.Context, id string, receipt *eth.Receipt) error {
	_, err := m.mutate(id, func(tx *Transaction) error {
		return applyReceipt(tx, receipt, m.now())
	})
	return err
}

func (m *MemoryStore) IncrementAttempts(ctx context.Context, id string) error {
	_, err := m.mutate(id, func(tx *Transaction) error {
		tx.Attempts++
		tx.UpdatedAt = m.now()
		return nil
	})
	return err
}

func (m *MemoryStore) AssignNonce(ctx context.Context, id string, nonce uint64) (*Transaction, error) {
	return m.mutate(id, func(tx *Transaction) error {
		return applyNonce(tx, nonce, m.now())
	})
}

func (m *MemoryStore) ClearNonce(ctx context.Context, id string) error {
	_, err := m.mutate(id, func(tx *Transaction) error {
		tx.Nonce = nil
		tx.UpdatedAt = m.now()
		return nil
	})
	return err
}

func (m *MemoryStore) HighestPendingNonce(ctx context.Context, from string) (*uint64, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	all := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		all = append(all, tx)
	}
	return highestNonce(all, from), nil
}

func (m *MemoryStore) GetAndIncrement(ctx context.Context, address string) (uint64, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	nonce := m.nonces[address]
	m.nonces[address] = nonce + 1
	return nonce, nil
}

func (m *MemoryStore) ForceSet(ctx context.Context, address string, nonce uint64) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.nonces[address] = nonce
	return nil
}

func (m *MemoryStore) Close() {}
