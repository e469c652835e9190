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

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestUUIDv4(t *testing.T) {
	assert := assert.New(t)
	u1 := UUIDv4()
	u2 := UUIDv4()
	assert.Len(u1, 36)
	assert.NotEqual(u1, u2)
}

func TestNewTxIDSortable(t *testing.T) {
	assert := assert.New(t)
	id1 := NewTxID()
	id2 := NewTxID()
	_, err := ulid.ParseStrict(id1)
	assert.NoError(err)
	assert.Len(id1, 26)
	assert.True(id1 <= id2)
}
