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

package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
)

// StrToAddress is a helper to parse eth addresses with useful errors
func StrToAddress(desc string, strAddr string) (addr common.Address, err error) {
	if strAddr == "" {
		err = errors.Errorf(errors.TransactionMissingFrom)
		return
	}
	if !strings.HasPrefix(strAddr, "0x") {
		strAddr = "0x" + strAddr
	}
	if !common.IsHexAddress(strAddr) {
		err = errors.Errorf(errors.TransactionBadAddress, desc)
		return
	}
	addr = common.HexToAddress(strAddr)
	return
}

// NormalizeAddress lower-cases an address, and ensures the 0x prefix, so it
// can be used as a stable storage key
func NormalizeAddress(strAddr string) string {
	strAddr = strings.ToLower(strings.TrimSpace(strAddr))
	if strAddr != "" && !strings.HasPrefix(strAddr, "0x") {
		strAddr = "0x" + strAddr
	}
	return strAddr
}
