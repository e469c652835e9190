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
	goerrors "errors"
	"sort"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
)

// Status of a transaction
type Status string

const (
	// StatusPending not yet known to be mined
	StatusPending Status = "pending"
	// StatusConfirmed mined with a success receipt
	StatusConfirmed Status = "confirmed"
	// StatusReverted mined with a failure receipt
	StatusReverted Status = "reverted"
	// StatusFailed needs operator attention. Never set automatically
	StatusFailed Status = "failed"
)

// ErrNonceAlreadySet is returned by AssignNonce when the guard on an unset nonce fails
var ErrNonceAlreadySet = goerrors.New("nonce already set")

// Transaction is the record of a submission, from request to receipt
type Transaction struct {
	ID            string                 `json:"id" bson:"_id"`
	From          string                 `json:"from" bson:"from"`
	Nonce         *uint64                `json:"nonce,omitempty" bson:"nonce,omitempty"`
	Body          eth.TxBody             `json:"body" bson:"body"`
	Hash          string                 `json:"hash,omitempty" bson:"hash,omitempty"`
	Status        Status                 `json:"status" bson:"status"`
	Attempts      int                    `json:"attempts" bson:"attempts"`
	RequestOrigin string                 `json:"requestOrigin,omitempty" bson:"requestOrigin,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty" bson:"context,omitempty"`
	Receipt       *eth.Receipt           `json:"receipt,omitempty" bson:"receipt,omitempty"`
	Mined         bool                   `json:"mined" bson:"mined"`
	CreatedAt     time.Time              `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt" bson:"updatedAt"`
}

// IsPrivate is true for transactions signed by the node
func (t *Transaction) IsPrivate() bool {
	return t.Body.IsPrivate()
}

// Copy returns a deep enough copy that the caller can mutate it freely
func (t *Transaction) Copy() *Transaction {
	c := *t
	if t.Nonce != nil {
		n := *t.Nonce
		c.Nonce = &n
	}
	if t.Receipt != nil {
		r := *t.Receipt
		c.Receipt = &r
	}
	if t.Context != nil {
		c.Context = make(map[string]interface{}, len(t.Context))
		for k, v := range t.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// TransactionStore persists transactions. All mutations are atomic per record
type TransactionStore interface {
	// Create is idempotent on ID. If a record already exists it is returned unchanged, with created=false
	Create(ctx context.Context, tx *Transaction) (stored *Transaction, created bool, err error)
	// Get returns nil, nil if not found
	Get(ctx context.Context, id string) (*Transaction, error)
	// ListPending returns pending transactions ascending by nonce, with unassigned nonces last
	ListPending(ctx context.Context) ([]*Transaction, error)
	UpdateHash(ctx context.Context, id, hash string) error
	// UpdateOnReceipt stores the receipt, and moves to confirmed or reverted based on its status.
	// A nil receipt moves to reverted without marking the transaction mined
	UpdateOnReceipt(ctx context.Context, id string, receipt *eth.Receipt) error
	IncrementAttempts(ctx context.Context, id string) error
	// AssignNonce sets the nonce and increments attempts, only if no nonce is set
	AssignNonce(ctx context.Context, id string, nonce uint64) (*Transaction, error)
	ClearNonce(ctx context.Context, id string) error
	// HighestPendingNonce returns nil if no pending transaction from the address has a nonce
	HighestPendingNonce(ctx context.Context, from string) (*uint64, error)
	Close()
}

// NonceStore holds the next nonce for each address
type NonceStore interface {
	// GetAndIncrement returns the current value, and increments. The first call for an address returns 0
	GetAndIncrement(ctx context.Context, address string) (uint64, error)
	ForceSet(ctx context.Context, address string, nonce uint64) error
	Close()
}

func sortPending(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Nonce, txs[j].Nonce
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

func highestNonce(txs []*Transaction, from string) *uint64 {
	var highest *uint64
	for _, tx := range txs {
		if tx.Status != StatusPending || tx.Nonce == nil || tx.From != from {
			continue
		}
		if highest == nil || *tx.Nonce > *highest {
			n := *tx.Nonce
			highest = &n
		}
	}
	return highest
}

func prepareCreate(tx *Transaction, now time.Time) *Transaction {
	c := tx.Copy()
	if c.Status == "" {
		c.Status = StatusPending
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return c
}

func statusForReceipt(receipt *eth.Receipt) Status {
	if receipt != nil && receipt.Success() {
		return StatusConfirmed
	}
	return StatusReverted
}

func applyReceipt(tx *Transaction, receipt *eth.Receipt, now time.Time) error {
	if tx.Status != StatusPending || tx.Receipt != nil {
		return errors.Errorf(errors.TransactionAlreadyFinal, tx.ID, tx.Status)
	}
	if receipt != nil {
		r := *receipt
		tx.Receipt = &r
		tx.Mined = true
	}
	tx.Status = statusForReceipt(receipt)
	tx.UpdatedAt = now
	return nil
}

func applyNonce(tx *Transaction, nonce uint64, now time.Time) error {
	if tx.Nonce != nil {
		return ErrNonceAlreadySet
	}
	tx.Nonce = &nonce
	tx.Attempts++
	tx.UpdatedAt = now
	return nil
}
