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
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/retry"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReceiptTimeoutSec = 120
	defaultCallTimeoutSec    = 30
	defaultReceiptCacheSize  = 1000
	defaultRecoveryRetries   = 3
)

// LedgerConf configures the calls we make to the ledger node
type LedgerConf struct {
	ReceiptTimeoutSec int  `json:"receiptTimeoutSec,omitempty"`
	CallTimeoutSec    int  `json:"callTimeoutSec,omitempty"`
	ReceiptCacheSize  int  `json:"receiptCacheSize,omitempty"`
	RecoveryRetries   *int `json:"recoveryRetries,omitempty"`
}

// Ledger is the set of node operations the submission engine depends on
type Ledger interface {
	GetAccounts(ctx context.Context) ([]string, error)
	GetTransactionCount(ctx context.Context, address, blockTag string) (uint64, error)
	GetTransaction(ctx context.Context, hash string) (*TxnInfo, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	IsTxInBlock(ctx context.Context, hash string) (bool, error)
	RecoverReceipt(ctx context.Context, hash string, cause error) (*Receipt, error)
	IsReceiptRecoverable(err error) bool
	UnlockAccount(ctx context.Context, address, passphrase string, durationSec int) (bool, error)
	SendTransaction(ctx context.Context, args *SendTXArgs) <-chan SendEvent
	SendRawTransaction(ctx context.Context, signed *SignedTx) <-chan SendEvent
}

// LedgerClient applies the retry strategy to every JSON/RPC call
type LedgerClient struct {
	rpc            RPCClient
	strategy       *retry.Strategy
	recovery       *retry.Strategy
	receipts       *lru.Cache
	delays         DelayTracker
	receiptTimeout time.Duration
	callTimeout    time.Duration
}

// NewLedgerClient constructs a client over an RPC connection
func NewLedgerClient(conf *LedgerConf, rpc RPCClient, strategy *retry.Strategy) (*LedgerClient, error) {
	receiptTimeoutSec := conf.ReceiptTimeoutSec
	if receiptTimeoutSec <= 0 {
		receiptTimeoutSec = defaultReceiptTimeoutSec
	}
	callTimeoutSec := conf.CallTimeoutSec
	if callTimeoutSec <= 0 {
		callTimeoutSec = defaultCallTimeoutSec
	}
	cacheSize := conf.ReceiptCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultReceiptCacheSize
	}
	recoveryRetries := defaultRecoveryRetries
	if conf.RecoveryRetries != nil && *conf.RecoveryRetries >= 0 {
		recoveryRetries = *conf.RecoveryRetries
	}
	receipts, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &LedgerClient{
		rpc:            rpc,
		strategy:       strategy,
		recovery:       strategy.WithMaxRetries(recoveryRetries),
		receipts:       receipts,
		delays:         NewDelayTracker(),
		receiptTimeout: time.Duration(receiptTimeoutSec) * time.Second,
		callTimeout:    time.Duration(callTimeoutSec) * time.Second,
	}, nil
}

func (l *LedgerClient) call(ctx context.Context, strategy *retry.Strategy, result interface{}, method string, args ...interface{}) error {
	return strategy.Do(ctx, method, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
		if err := l.rpc.CallContext(callCtx, result, method, args...); err != nil {
			return errors.Errorf(errors.RPCCallReturnedError, method, err)
		}
		return nil
	})
}

// GetAccounts returns the accounts managed by the node
func (l *LedgerClient) GetAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := l.call(ctx, l.strategy, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetTransactionCount returns the count of transactions for the address at
// the supplied block tag ("pending" or "latest")
func (l *LedgerClient) GetTransactionCount(ctx context.Context, address, blockTag string) (uint64, error) {
	var count hexutil.Uint64
	if err := l.call(ctx, l.strategy, &count, "eth_getTransactionCount", address, blockTag); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// GetTransaction returns nil with no error if the node does not know the hash
func (l *LedgerClient) GetTransaction(ctx context.Context, hash string) (*TxnInfo, error) {
	var info *TxnInfo
	if err := l.call(ctx, l.strategy, &info, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	return info, nil
}

func (l *LedgerClient) getReceipt(ctx context.Context, strategy *retry.Strategy, hash string) (*Receipt, error) {
	if cached, ok := l.receipts.Get(hash); ok {
		return cached.(*Receipt), nil
	}
	var wire *TxnReceipt
	if err := l.call(ctx, strategy, &wire, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if wire == nil || wire.BlockNumber == nil {
		return nil, nil
	}
	receipt := wire.ToReceipt()
	l.receipts.Add(hash, receipt)
	return receipt, nil
}

// GetTransactionReceipt returns nil with no error if the transaction is not yet mined
func (l *LedgerClient) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	return l.getReceipt(ctx, l.strategy, hash)
}

// IsTxInBlock is true only if the node reports a block number for the transaction
func (l *LedgerClient) IsTxInBlock(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	info, err := l.GetTransaction(ctx, hash)
	if err != nil {
		return false, err
	}
	return info != nil && info.Mined(), nil
}

// RecoverReceipt makes a bounded attempt to find the receipt for a transaction
// whose send reported an error. The receipt is the authoritative outcome if found
func (l *LedgerClient) RecoverReceipt(ctx context.Context, hash string, cause error) (*Receipt, error) {
	if hash == "" {
		return nil, errors.Errorf(errors.ReceiptRecoveryNoHash)
	}
	var receipt *Receipt
	err := l.recovery.Do(ctx, "recoverReceipt", func(ctx context.Context) (err error) {
		receipt, err = l.getReceipt(ctx, l.recovery.WithMaxRetries(0), hash)
		if err == nil && receipt == nil {
			err = retry.NewRetryableError(errors.Errorf(errors.ReceiptNotMined))
		}
		return err
	})
	if err != nil {
		log.Warnf("Receipt recovery failed for %s: %s", hash, err)
		if cause == nil {
			cause = err
		}
		return nil, errors.Errorf(errors.ReceiptRecoveryFailed, cause)
	}
	return receipt, nil
}

// IsReceiptRecoverable reports whether it is worth looking for a receipt
// after the supplied error
func (l *LedgerClient) IsReceiptRecoverable(err error) bool {
	return IsReceiptRecoverable(err)
}

// IsReceiptRecoverable is true when the receipt may still be found later,
// because the transaction is not yet mined or the node was unreachable
func IsReceiptRecoverable(err error) bool {
	return errors.IsCode(err, errors.ReceiptNotMined) || retry.IsTransient(err)
}

// UnlockAccount unlocks a node-managed account for signing
func (l *LedgerClient) UnlockAccount(ctx context.Context, address, passphrase string, durationSec int) (bool, error) {
	var unlocked bool
	if err := l.call(ctx, l.strategy, &unlocked, "personal_unlockAccount", address, passphrase, durationSec); err != nil {
		return false, err
	}
	return unlocked, nil
}

// IsNonceTooLow matches the node rejecting a nonce it has already seen mined
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// IsKnownTransaction matches the node rejecting a payload it already holds
func IsKnownTransaction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "known transaction") || strings.Contains(msg, "already known")
}
