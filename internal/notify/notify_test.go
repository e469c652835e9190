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
	"fmt"
	"testing"

	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/stretchr/testify/assert"
)

func testTx() *txstore.Transaction {
	return &txstore.Transaction{
		ID:            "tx1",
		Hash:          "0x1234",
		RequestOrigin: "trader",
		Context:       map[string]interface{}{"productId": "tradeFinance"},
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "BlockchainTransactionSuccess", RoutingKey("", MessageTypeSuccess, ""))
	assert.Equal(t, "INTERNAL.BlockchainTransactionError.trader", RoutingKey("INTERNAL.", MessageTypeError, "trader"))
}

func TestNewSuccess(t *testing.T) {
	assert := assert.New(t)
	n := NewSuccess(testTx(), &eth.Receipt{Status: 1, BlockNumber: 7})
	b, err := n.Marshal()
	assert.NoError(err)
	var m map[string]interface{}
	assert.NoError(json.Unmarshal(b, &m))
	assert.Equal("BlockchainTransactionSuccess", m["messageType"])
	assert.Equal("tx1", m["txId"])
	assert.Equal("0x1234", m["hash"])
	assert.Equal("confirmed", m["status"])
	assert.Equal("trader", m["requestOrigin"])
	assert.Equal("tradeFinance", m["context"].(map[string]interface{})["productId"])
	assert.Equal(float64(7), m["receipt"].(map[string]interface{})["blockNumber"])
	assert.Nil(m["error"])
}

func TestNewError(t *testing.T) {
	assert := assert.New(t)
	n := NewError(testTx(), nil, "Transaction has reached gas limit")
	assert.Equal(MessageTypeError, n.MessageType)
	assert.Equal("reverted", n.Status)
	assert.Equal("Transaction has reached gas limit", n.Error)
	assert.Nil(n.Receipt)
}

func TestMarshalFailure(t *testing.T) {
	n := NewSuccess(testTx(), nil)
	n.Context["bad"] = make(chan int)
	_, err := n.Marshal()
	assert.Regexp(t, "Failed to serialize notification", err)
	assert.Error(t, (&LogPublisher{}).Publish(context.Background(), "k", n))
}

func TestLogPublisher(t *testing.T) {
	p := &LogPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "k", NewSuccess(testTx(), nil)))
	p.Close()
}

func TestMemoryPublisher(t *testing.T) {
	assert := assert.New(t)
	p := &MemoryPublisher{}
	assert.NoError(p.Publish(context.Background(), "k1", NewSuccess(testTx(), nil)))
	p.FailWith = fmt.Errorf("pop")
	assert.Regexp("pop", p.Publish(context.Background(), "k2", NewSuccess(testTx(), nil)))
	assert.Len(p.Published(), 1)
	assert.Equal("k1", p.Published()[0].RoutingKey)
	p.Close()
	assert.True(p.Closed())
	p.FailWith = nil
	assert.Regexp("closed", p.Publish(context.Background(), "k3", NewSuccess(testTx(), nil)))
}
