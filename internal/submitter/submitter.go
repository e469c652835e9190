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

package submitter

import (
	"context"

	"github.com/kaleido-io/ethtxsubmit/internal/contention"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/keys"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	log "github.com/sirupsen/logrus"
)

const defaultGasPrice = "0x0"

// Conf configures the submission surface
type Conf struct {
	EagerSend bool `json:"eagerSend,omitempty"`
}

// Request is a transaction submitted by a caller
type Request struct {
	ID            string                 `json:"id,omitempty"`
	From          string                 `json:"from"`
	To            string                 `json:"to,omitempty"`
	Value         string                 `json:"value,omitempty"`
	Data          string                 `json:"data,omitempty"`
	Gas           uint64                 `json:"gas,omitempty"`
	GasPrice      string                 `json:"gasPrice,omitempty"`
	PrivateFrom   string                 `json:"privateFrom,omitempty"`
	PrivateFor    []string               `json:"privateFor,omitempty"`
	RequestOrigin string                 `json:"requestOrigin,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// TxStatus is the externally visible state of a transaction
type TxStatus struct {
	Hash   string         `json:"hash,omitempty"`
	Status txstore.Status `json:"status"`
}

// Sender is the subset of the transaction manager used for eager sends
type Sender interface {
	SendPublicTx(ctx context.Context, tx *txstore.Transaction, key *keys.ActiveKey) (string, error)
	SendPrivateTx(ctx context.Context, tx *txstore.Transaction) (string, error)
}

// Service is the entry point for a service boundary in front of the engine
type Service struct {
	conf       *Conf
	txs        txstore.TransactionStore
	sender     Sender
	keys       keys.Provider
	contention *contention.Manager
}

// NewService constructs the service
func NewService(conf *Conf, txs txstore.TransactionStore, sender Sender, keyProvider keys.Provider, cm *contention.Manager) *Service {
	return &Service{
		conf:       conf,
		txs:        txs,
		sender:     sender,
		keys:       keyProvider,
		contention: cm,
	}
}

func buildTransaction(req *Request) (*txstore.Transaction, error) {
	if _, err := utils.StrToAddress("from", req.From); err != nil {
		return nil, err
	}
	if req.To != "" {
		if _, err := utils.StrToAddress("to", req.To); err != nil {
			return nil, err
		}
	}
	body := eth.TxBody{
		To:       req.To,
		Value:    req.Value,
		Data:     req.Data,
		Gas:      req.Gas,
		GasPrice: req.GasPrice,
	}
	if body.GasPrice == "" {
		body.GasPrice = defaultGasPrice
	}
	if len(req.PrivateFor) > 0 {
		zero := uint64(0)
		body.Nonce = &zero
		body.PrivateFrom = req.PrivateFrom
		body.PrivateFor = req.PrivateFor
	}
	id := req.ID
	if id == "" {
		id = utils.NewTxID()
	}
	return &txstore.Transaction{
		ID:            id,
		From:          utils.NormalizeAddress(req.From),
		Body:          body,
		Status:        txstore.StatusPending,
		RequestOrigin: req.RequestOrigin,
		Context:       req.Context,
	}, nil
}

// SendTx persists the request idempotently on its ID. A new transaction is
// broadcast straight away if eagerSend is set, otherwise it is left for
// reconciliation. If the eager send fails the persisted transaction is
// returned along with the error, and reconciliation will retry it
func (s *Service) SendTx(ctx context.Context, req *Request) (*txstore.Transaction, error) {
	tx, err := buildTransaction(req)
	if err != nil {
		return nil, err
	}
	stored, created, err := s.txs.Create(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("TX:%s already submitted status=%s hash=%s", stored.ID, stored.Status, stored.Hash)
		return stored, nil
	}
	log.Infof("TX:%s persisted from=%s private=%t", stored.ID, stored.From, stored.IsPrivate())
	if !s.conf.EagerSend {
		return stored, nil
	}

	_, err = s.contention.Apply(ctx, func(ctx context.Context) (interface{}, error) {
		return s.send(ctx, stored)
	})
	if err != nil {
		log.Warnf("TX:%s eager send failed. Left for reconciliation: %s", stored.ID, err)
		return stored, err
	}
	latest, err := s.txs.Get(ctx, stored.ID)
	if err != nil || latest == nil {
		return stored, err
	}
	return latest, nil
}

func (s *Service) send(ctx context.Context, tx *txstore.Transaction) (string, error) {
	if tx.IsPrivate() {
		return s.sender.SendPrivateTx(ctx, tx)
	}
	key, err := s.keys.ActiveKey(ctx)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", errors.Errorf(errors.SignerNoKey, tx.From)
	}
	return s.sender.SendPublicTx(ctx, tx, key)
}

// TxStatus returns the hash and status of a transaction
func (s *Service) TxStatus(ctx context.Context, id string) (*TxStatus, error) {
	tx, err := s.txs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.Errorf(errors.TransactionNotFound, id)
	}
	return &TxStatus{Hash: tx.Hash, Status: tx.Status}, nil
}
