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

package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	log "github.com/sirupsen/logrus"
)

const (
	// MessageTypeSuccess is published when a transaction is mined successfully
	MessageTypeSuccess = "BlockchainTransactionSuccess"
	// MessageTypeError is published when a transaction reverts, or its outcome cannot be recovered
	MessageTypeError = "BlockchainTransactionError"
)

// Notification is the payload sent to the requester of a transaction
type Notification struct {
	MessageType   string                 `json:"messageType"`
	TxID          string                 `json:"txId"`
	Hash          string                 `json:"hash,omitempty"`
	Status        string                 `json:"status"`
	RequestOrigin string                 `json:"requestOrigin,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Receipt       *eth.Receipt           `json:"receipt,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Publisher delivers notifications to a message bus
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload *Notification) error
	Close()
}

// RoutingKey builds <prefix><messageType>[.<origin>]
func RoutingKey(prefix, messageType, origin string) string {
	key := prefix + messageType
	if origin != "" {
		key += "." + origin
	}
	return key
}

// NewSuccess builds the notification for a mined transaction
func NewSuccess(tx *txstore.Transaction, receipt *eth.Receipt) *Notification {
	return &Notification{
		MessageType:   MessageTypeSuccess,
		TxID:          tx.ID,
		Hash:          tx.Hash,
		Status:        string(txstore.StatusConfirmed),
		RequestOrigin: tx.RequestOrigin,
		Context:       tx.Context,
		Receipt:       receipt,
		Timestamp:     time.Now().UTC(),
	}
}

// NewError builds the notification for a reverted transaction. The receipt
// is nil when the outcome could not be recovered from the node
func NewError(tx *txstore.Transaction, receipt *eth.Receipt, message string) *Notification {
	return &Notification{
		MessageType:   MessageTypeError,
		TxID:          tx.ID,
		Hash:          tx.Hash,
		Status:        string(txstore.StatusReverted),
		RequestOrigin: tx.RequestOrigin,
		Context:       tx.Context,
		Error:         message,
		Receipt:       receipt,
		Timestamp:     time.Now().UTC(),
	}
}

// Marshal serializes the payload for the wire
func (n *Notification) Marshal() ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Errorf(errors.NotificationSerialize, err)
	}
	return b, nil
}

// LogPublisher writes notifications to the log, for when no bus is configured
type LogPublisher struct{}

func (l *LogPublisher) Publish(ctx context.Context, routingKey string, payload *Notification) error {
	b, err := payload.Marshal()
	if err != nil {
		return err
	}
	log.Infof("Notification %s: %s", routingKey, b)
	return nil
}

func (l *LogPublisher) Close() {}

// Published is a notification captured by a MemoryPublisher
type Published struct {
	RoutingKey string
	Payload    *Notification
}

// MemoryPublisher captures notifications in memory
type MemoryPublisher struct {
	FailWith error

	mux       sync.Mutex
	published []Published
	closed    bool
}

func (m *MemoryPublisher) Publish(ctx context.Context, routingKey string, payload *Notification) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.closed {
		return errors.Errorf(errors.NotificationPublisherClosed)
	}
	if m.FailWith != nil {
		return m.FailWith
	}
	m.published = append(m.published, Published{RoutingKey: routingKey, Payload: payload})
	return nil
}

// Published returns a copy of everything published so far
func (m *MemoryPublisher) Published() []Published {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]Published{}, m.published...)
}

// Closed reports whether Close was called
func (m *MemoryPublisher) Closed() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.closed
}

func (m *MemoryPublisher) Close() {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.closed = true
}
