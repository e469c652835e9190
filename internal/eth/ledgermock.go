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

package eth

import (
	"context"
	"fmt"
	"sync"
)

// MockLedger implements Ledger with scripted responses, for use in tests of other packages
type MockLedger struct {
	PendingCount  uint64
	CountErr      error
	InBlock       map[string]bool
	InBlockErr    error
	Receipts      map[string]*Receipt
	ReceiptErr    error
	RecoverResult *Receipt
	RecoverErr    error
	UnlockErr     error
	// Stream supplies the events for each send. hash is the locally computed
	// hash of a raw send, and empty for a node-signed send. If nil, the
	// stream is a hash then a success receipt
	Stream func(hash string) []SendEvent
	// Hold, when set, delays everything after the first event until it is closed
	Hold chan struct{}

	mux       sync.Mutex
	unlocked  []string
	sent      []*SendTXArgs
	rawSent   []*SignedTx
	recovered []string
}

func (m *MockLedger) GetAccounts(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (m *MockLedger) GetTransactionCount(ctx context.Context, address, blockTag string) (uint64, error) {
	return m.PendingCount, m.CountErr
}

func (m *MockLedger) GetTransaction(ctx context.Context, hash string) (*TxnInfo, error) {
	return nil, nil
}

func (m *MockLedger) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	if m.ReceiptErr != nil {
		return nil, m.ReceiptErr
	}
	return m.Receipts[hash], nil
}

func (m *MockLedger) IsTxInBlock(ctx context.Context, hash string) (bool, error) {
	if m.InBlockErr != nil {
		return false, m.InBlockErr
	}
	return hash != "" && m.InBlock[hash], nil
}

func (m *MockLedger) RecoverReceipt(ctx context.Context, hash string, cause error) (*Receipt, error) {
	m.mux.Lock()
	m.recovered = append(m.recovered, hash)
	m.mux.Unlock()
	return m.RecoverResult, m.RecoverErr
}

func (m *MockLedger) IsReceiptRecoverable(err error) bool {
	return IsReceiptRecoverable(err)
}

func (m *MockLedger) UnlockAccount(ctx context.Context, address, passphrase string, durationSec int) (bool, error) {
	m.mux.Lock()
	m.unlocked = append(m.unlocked, fmt.Sprintf("%s/%s/%d", address, passphrase, durationSec))
	m.mux.Unlock()
	return m.UnlockErr == nil, m.UnlockErr
}

func (m *MockLedger) SendTransaction(ctx context.Context, args *SendTXArgs) <-chan SendEvent {
	m.mux.Lock()
	m.sent = append(m.sent, args)
	hash := fmt.Sprintf("0x%064x", len(m.sent))
	m.mux.Unlock()
	return m.stream(ctx, hash, "")
}

func (m *MockLedger) SendRawTransaction(ctx context.Context, signed *SignedTx) <-chan SendEvent {
	m.mux.Lock()
	m.rawSent = append(m.rawSent, signed)
	m.mux.Unlock()
	return m.stream(ctx, signed.Hash, signed.Hash)
}

func (m *MockLedger) stream(ctx context.Context, defaultHash, localHash string) <-chan SendEvent {
	var events []SendEvent
	if m.Stream != nil {
		events = m.Stream(localHash)
	} else {
		events = []SendEvent{
			{Type: SendEventHash, Hash: defaultHash},
			{Type: SendEventReceipt, Hash: defaultHash, Receipt: &Receipt{TransactionHash: defaultHash, BlockNumber: 1, Status: 1}},
		}
	}
	ch := make(chan SendEvent, len(events))
	go func() {
		defer close(ch)
		for i, ev := range events {
			if i == 1 && m.Hold != nil {
				select {
				case <-m.Hold:
				case <-ctx.Done():
					return
				}
			}
			ch <- ev
		}
	}()
	return ch
}

// Unlocked returns address/passphrase/duration for each unlock call
func (m *MockLedger) Unlocked() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string{}, m.unlocked...)
}

// Sent returns the args of each node-signed send
func (m *MockLedger) Sent() []*SendTXArgs {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]*SendTXArgs{}, m.sent...)
}

// RawSent returns each locally signed payload sent
func (m *MockLedger) RawSent() []*SignedTx {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]*SignedTx{}, m.rawSent...)
}

// Recovered returns the hashes passed to RecoverReceipt
func (m *MockLedger) Recovered() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string{}, m.recovered...)
}

var _ Ledger = &MockLedger{}
