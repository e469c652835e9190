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
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
)

// TxBody is the payload of a transaction, as persisted. Quantities are held
// as strings (hex with 0x prefix, or decimal) so the structure stores cleanly
// in any document database
type TxBody struct {
	To          string   `json:"to,omitempty" bson:"to,omitempty"`
	Value       string   `json:"value,omitempty" bson:"value,omitempty"`
	Data        string   `json:"data,omitempty" bson:"data,omitempty"`
	Gas         uint64   `json:"gas,omitempty" bson:"gas,omitempty"`
	GasPrice    string   `json:"gasPrice,omitempty" bson:"gasPrice,omitempty"`
	Nonce       *uint64  `json:"nonce,omitempty" bson:"nonce,omitempty"`
	PrivateFrom string   `json:"privateFrom,omitempty" bson:"privateFrom,omitempty"`
	PrivateFor  []string `json:"privateFor,omitempty" bson:"privateFor,omitempty"`
}

// IsPrivate is true for confidential transactions, which are signed by the node
func (b *TxBody) IsPrivate() bool {
	return len(b.PrivateFor) > 0
}

// Redacted returns a copy that is safe to log
func (b *TxBody) Redacted() TxBody {
	c := *b
	if c.Data != "" {
		c.Data = "[redacted]"
	}
	return c
}

func parseQuantity(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i, ok := new(big.Int).SetString(s[2:], 16)
		if !ok && s[2:] != "" {
			return nil, errors.Errorf(errors.SignerBadBody, field, s)
		}
		if i == nil {
			i = new(big.Int)
		}
		return i, nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf(errors.SignerBadBody, field, s)
	}
	return i, nil
}

func parseData(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Errorf(errors.SignerBadBody, "data", err)
	}
	return b, nil
}

// SendArgs builds the eth_sendTransaction arguments for node signing
func (b *TxBody) SendArgs(from string) (*SendTXArgs, error) {
	value, err := parseQuantity("value", b.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseQuantity("gasPrice", b.GasPrice)
	if err != nil {
		return nil, err
	}
	data, err := parseData(b.Data)
	if err != nil {
		return nil, err
	}
	hexData := hexutil.Bytes(data)
	args := &SendTXArgs{
		From:        from,
		To:          b.To,
		GasPrice:    (*hexutil.Big)(gasPrice),
		Value:       (*hexutil.Big)(value),
		Data:        &hexData,
		PrivateFrom: b.PrivateFrom,
		PrivateFor:  b.PrivateFor,
	}
	if b.Gas > 0 {
		gas := hexutil.Uint64(b.Gas)
		args.Gas = &gas
	}
	if b.Nonce != nil {
		nonce := hexutil.Uint64(*b.Nonce)
		args.Nonce = &nonce
	}
	return args, nil
}

// SendTXArgs is the JSON arguments that can be passed to an eth_sendTransaction call
type SendTXArgs struct {
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	From     string          `json:"from"`
	To       string          `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     *hexutil.Bytes  `json:"data"`
	// Quorum/Tessera private transaction extensions
	PrivateFrom string   `json:"privateFrom,omitempty"`
	PrivateFor  []string `json:"privateFor,omitempty"`
}

// TxnReceipt is the receipt obtained over JSON/RPC from the ethereum client
type TxnReceipt struct {
	BlockHash         *common.Hash    `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	ContractAddress   *common.Address `json:"contractAddress"`
	CumulativeGasUsed *hexutil.Big    `json:"cumulativeGasUsed"`
	TransactionHash   *common.Hash    `json:"transactionHash"`
	From              *common.Address `json:"from"`
	GasUsed           *hexutil.Big    `json:"gasUsed"`
	Status            *hexutil.Big    `json:"status"`
	To                *common.Address `json:"to"`
	TransactionIndex  *hexutil.Uint   `json:"transactionIndex"`
}

// TxnInfo is the detailed transaction info returned by eth_getTransactionByHash
type TxnInfo struct {
	BlockHash        *common.Hash    `json:"blockHash,omitempty"`
	BlockNumber      *hexutil.Big    `json:"blockNumber,omitempty"`
	From             *common.Address `json:"from,omitempty"`
	Gas              *hexutil.Uint64 `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Hash             *common.Hash    `json:"hash"`
	Nonce            *hexutil.Uint64 `json:"nonce"`
	To               *common.Address `json:"to,omitempty"`
	TransactionIndex *hexutil.Uint   `json:"transactionIndex,omitempty"`
	Value            *hexutil.Big    `json:"value"`
	Input            *hexutil.Bytes  `json:"input"`
}

// Mined is true when the node has placed the transaction in a block
func (t *TxnInfo) Mined() bool {
	return t.BlockNumber != nil
}

// Receipt is the persisted form of a transaction receipt
type Receipt struct {
	TransactionHash   string `json:"transactionHash" bson:"transactionHash"`
	BlockHash         string `json:"blockHash" bson:"blockHash"`
	BlockNumber       uint64 `json:"blockNumber" bson:"blockNumber"`
	TransactionIndex  uint64 `json:"transactionIndex" bson:"transactionIndex"`
	From              string `json:"from,omitempty" bson:"from,omitempty"`
	To                string `json:"to,omitempty" bson:"to,omitempty"`
	ContractAddress   string `json:"contractAddress,omitempty" bson:"contractAddress,omitempty"`
	GasUsed           uint64 `json:"gasUsed" bson:"gasUsed"`
	CumulativeGasUsed uint64 `json:"cumulativeGasUsed" bson:"cumulativeGasUsed"`
	Status            uint64 `json:"status" bson:"status"`
}

// Success is true if the transaction executed without reverting
func (r *Receipt) Success() bool {
	return r.Status == 1
}

func bigToUint64(b *hexutil.Big) uint64 {
	if b == nil {
		return 0
	}
	return b.ToInt().Uint64()
}

// ToReceipt converts from the JSON/RPC representation
func (r *TxnReceipt) ToReceipt() *Receipt {
	receipt := &Receipt{
		BlockNumber:       bigToUint64(r.BlockNumber),
		GasUsed:           bigToUint64(r.GasUsed),
		CumulativeGasUsed: bigToUint64(r.CumulativeGasUsed),
		Status:            bigToUint64(r.Status),
	}
	if r.TransactionHash != nil {
		receipt.TransactionHash = r.TransactionHash.Hex()
	}
	if r.BlockHash != nil {
		receipt.BlockHash = r.BlockHash.Hex()
	}
	if r.TransactionIndex != nil {
		receipt.TransactionIndex = uint64(*r.TransactionIndex)
	}
	if r.From != nil {
		receipt.From = r.From.Hex()
	}
	if r.To != nil {
		receipt.To = r.To.Hex()
	}
	if r.ContractAddress != nil {
		receipt.ContractAddress = r.ContractAddress.Hex()
	}
	return receipt
}
