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
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
)

// SignedTx is a locally signed transaction, ready for eth_sendRawTransaction
type SignedTx struct {
	Raw  []byte
	Hash string
}

// Signer turns a body and nonce into a signed payload
type Signer interface {
	Sign(body *TxBody, nonce uint64, key *ecdsa.PrivateKey) (*SignedTx, error)
}

type keySigner struct {
	signer types.Signer
}

// NewKeySigner returns an EIP-155 signer for a positive chain ID, otherwise a Homestead signer
func NewKeySigner(chainID int64) Signer {
	if chainID > 0 {
		return &keySigner{signer: types.NewEIP155Signer(big.NewInt(chainID))}
	}
	return &keySigner{signer: types.HomesteadSigner{}}
}

func (s *keySigner) Sign(body *TxBody, nonce uint64, key *ecdsa.PrivateKey) (*SignedTx, error) {
	if key == nil {
		return nil, errors.Errorf(errors.SignerNoKey, "<unknown>")
	}
	value, err := parseQuantity("value", body.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseQuantity("gasPrice", body.GasPrice)
	if err != nil {
		return nil, err
	}
	data, err := parseData(body.Data)
	if err != nil {
		return nil, err
	}
	var to *common.Address
	if body.To != "" {
		if !common.IsHexAddress(body.To) {
			return nil, errors.Errorf(errors.SignerBadBody, "to", body.To)
		}
		addr := common.HexToAddress(body.To)
		to = &addr
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      body.Gas,
		To:       to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, key)
	if err != nil {
		return nil, errors.Errorf(errors.SignerSigningFailed, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.Errorf(errors.SignerSigningFailed, err)
	}
	return &SignedTx{
		Raw:  raw,
		Hash: signed.Hash().Hex(),
	}, nil
}
