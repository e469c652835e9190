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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func TestKeySignerEIP155(t *testing.T) {
	assert := assert.New(t)
	key, err := crypto.GenerateKey()
	assert.NoError(err)

	body := &TxBody{
		To:       "0x2b8c0ECc76d0759a8F50b2E14A6881367D805832",
		Value:    "0x64",
		Data:     "0xfeedbeef",
		Gas:      90000,
		GasPrice: "0",
	}
	signed, err := NewKeySigner(1337).Sign(body, 12, key)
	assert.NoError(err)

	var tx types.Transaction
	assert.NoError(tx.UnmarshalBinary(signed.Raw))
	assert.Equal(signed.Hash, tx.Hash().Hex())
	assert.Equal(uint64(12), tx.Nonce())
	assert.Equal(uint64(90000), tx.Gas())
	assert.Equal(int64(100), tx.Value().Int64())
	assert.Equal([]byte{0xfe, 0xed, 0xbe, 0xef}, tx.Data())
	assert.Equal(big.NewInt(1337), tx.ChainId())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1337)), &tx)
	assert.NoError(err)
	assert.Equal(crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestKeySignerHomesteadDeploy(t *testing.T) {
	assert := assert.New(t)
	key, err := crypto.GenerateKey()
	assert.NoError(err)

	signed, err := NewKeySigner(0).Sign(&TxBody{Data: "6060"}, 0, key)
	assert.NoError(err)

	var tx types.Transaction
	assert.NoError(tx.UnmarshalBinary(signed.Raw))
	assert.Nil(tx.To())
	sender, err := types.Sender(types.HomesteadSigner{}, &tx)
	assert.NoError(err)
	assert.Equal(crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestKeySignerErrors(t *testing.T) {
	assert := assert.New(t)
	key, _ := crypto.GenerateKey()
	s := NewKeySigner(1)

	_, err := s.Sign(&TxBody{}, 0, nil)
	assert.Regexp("No private key", err)

	_, err = s.Sign(&TxBody{Value: "lots"}, 0, key)
	assert.Regexp("Invalid transaction body field 'value'", err)

	_, err = s.Sign(&TxBody{GasPrice: "0xzz"}, 0, key)
	assert.Regexp("Invalid transaction body field 'gasPrice'", err)

	_, err = s.Sign(&TxBody{Data: "0xzz"}, 0, key)
	assert.Regexp("Invalid transaction body field 'data'", err)

	_, err = s.Sign(&TxBody{To: "bob"}, 0, key)
	assert.Regexp("Invalid transaction body field 'to'", err)
}

func TestTxBodySendArgs(t *testing.T) {
	assert := assert.New(t)
	nonce := uint64(0)
	body := &TxBody{
		To:         "0xbb",
		Value:      "10",
		Data:       "abcd",
		Gas:        50000,
		Nonce:      &nonce,
		PrivateFor: []string{"node2"},
	}
	assert.True(body.IsPrivate())
	args, err := body.SendArgs("0xaa")
	assert.NoError(err)
	assert.Equal("0xaa", args.From)
	assert.Equal(int64(10), args.Value.ToInt().Int64())
	assert.Equal(uint64(50000), uint64(*args.Gas))
	assert.Equal(uint64(0), uint64(*args.Nonce))
	assert.Equal("0xabcd", args.Data.String())
	assert.Equal([]string{"node2"}, args.PrivateFor)

	redacted := body.Redacted()
	assert.Equal("[redacted]", redacted.Data)
	assert.Equal("abcd", body.Data)

	_, err = (&TxBody{Value: "x"}).SendArgs("0xaa")
	assert.Error(err)
	assert.False((&TxBody{}).IsPrivate())
}
