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

package nonce

import (
	"context"
	"sync"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Allocator hands out nonces. The atomic increment in the NonceStore is the
// only point of serialization between concurrent senders from one address
type Allocator struct {
	nonces   txstore.NonceStore
	txs      txstore.TransactionStore
	mux      sync.Mutex
	inflight map[string]int
}

// NewAllocator constructs an allocator over the stores
func NewAllocator(nonces txstore.NonceStore, txs txstore.TransactionStore) *Allocator {
	return &Allocator{
		nonces:   nonces,
		txs:      txs,
		inflight: make(map[string]int),
	}
}

// GetAndIncrementNonce returns the next nonce for the address. The first
// call for an address returns 0
func (a *Allocator) GetAndIncrementNonce(ctx context.Context, address string) (uint64, error) {
	address = utils.NormalizeAddress(address)
	nonce, err := a.nonces.GetAndIncrement(ctx, address)
	if err != nil {
		return 0, err
	}
	log.Debugf("Allocated nonce %d for %s", nonce, address)
	return nonce, nil
}

// ForceNonceOnAddress resets the counter for the address, and clears the
// nonce on the transaction that triggered the reset so it is re-allocated
func (a *Allocator) ForceNonceOnAddress(ctx context.Context, address string, nonce uint64, tx *txstore.Transaction) error {
	address = utils.NormalizeAddress(address)
	if err := a.nonces.ForceSet(ctx, address, nonce); err != nil {
		return err
	}
	log.Warnf("Nonce for %s forced to %d", address, nonce)
	if tx != nil {
		if err := a.txs.ClearNonce(ctx, tx.ID); err != nil {
			return errors.Errorf(errors.NonceResetFailed, address, err)
		}
		tx.Nonce = nil
	}
	return nil
}

func (a *Allocator) markInflight(address string) (done func()) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.inflight[address]++
	return func() {
		a.mux.Lock()
		defer a.mux.Unlock()
		a.inflight[address]--
		if a.inflight[address] <= 0 {
			delete(a.inflight, address)
		}
	}
}

func (a *Allocator) othersInflight(address string) int {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.inflight[address] - 1
}

// checkNotTooHigh allows for every nonce between the highest persisted and
// this one being held by another allocation in flight. The in-flight count
// must be read before the highest nonce
func (a *Allocator) checkNotTooHigh(ctx context.Context, address string, nonce uint64) error {
	othersInflight := a.othersInflight(address)
	highest, err := a.txs.HighestPendingNonce(ctx, address)
	if err != nil {
		return err
	}
	if highest != nil && nonce > *highest+1+uint64(othersInflight) {
		return errors.Errorf(errors.NonceTooHigh, nonce, address, *highest)
	}
	return nil
}

// AssignNonceToTransaction allocates and persists a nonce for the transaction,
// unless it already has one in which case the stored record is returned unchanged
func (a *Allocator) AssignNonceToTransaction(ctx context.Context, tx *txstore.Transaction) (*txstore.Transaction, error) {
	current, err := a.txs.Get(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Errorf(errors.TransactionNotFound, tx.ID)
	}
	if current.Nonce != nil {
		log.Debugf("TX:%s reusing nonce %d", current.ID, *current.Nonce)
		return current, nil
	}

	address := utils.NormalizeAddress(current.From)
	done := a.markInflight(address)
	defer done()

	nonce, err := a.GetAndIncrementNonce(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := a.checkNotTooHigh(ctx, address, nonce); err != nil {
		log.Errorf("TX:%s %s", current.ID, err)
		return nil, err
	}
	updated, err := a.txs.AssignNonce(ctx, current.ID, nonce)
	if err == txstore.ErrNonceAlreadySet {
		return nil, errors.Errorf(errors.NonceAssignmentConflict, current.ID)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("TX:%s assigned nonce=%d from=%s attempts=%d", updated.ID, nonce, address, updated.Attempts)
	return updated, nil
}
