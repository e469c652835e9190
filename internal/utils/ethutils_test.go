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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrToAddressOK(t *testing.T) {
	assert := assert.New(t)
	addr, err := StrToAddress("from", "83dBC8e329b38cBA0Fc4ed99b1Ce9c2a390ABdC1")
	assert.NoError(err)
	assert.Equal("0x83dBC8e329b38cBA0Fc4ed99b1Ce9c2a390ABdC1", addr.Hex())
}

func TestStrToAddressMissing(t *testing.T) {
	_, err := StrToAddress("from", "")
	assert.Regexp(t, "ETXS100507", err)
}

func TestStrToAddressBad(t *testing.T) {
	_, err := StrToAddress("to", "0xfeedbeef")
	assert.Regexp(t, "Supplied value for 'to' is not a valid hex address", err)
}

func TestNormalizeAddress(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("0x83dbc8e329b38cba0fc4ed99b1ce9c2a390abdc1", NormalizeAddress(" 83dBC8e329b38cBA0Fc4ed99b1Ce9c2a390ABdC1"))
	assert.Equal("0xab", NormalizeAddress("0xAB"))
	assert.Equal("", NormalizeAddress(""))
}
