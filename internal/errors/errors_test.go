// Copyright 2019,2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorfETXS(t *testing.T) {

	err := Errorf(ConfigFileReadFailed, "testfile.ext", fmt.Errorf("badness"))
	assert.Equal(t, ConfigFileReadFailed.Code(), err.Code())
	assert.Equal(t, "ETXS100000", err.Code())
	assert.Equal(t, "ETXS100000: Failed to read testfile.ext: badness", err.Error())
	assert.Equal(t, "ETXS100000: Failed to read testfile.ext: badness", err.String())
	assert.Equal(t, "Failed to read testfile.ext: badness", err.ErrorNoCode())

}

func TestUnwrapFirstErrorInsert(t *testing.T) {

	cause := fmt.Errorf("pop")
	err := Errorf(RPCCallReturnedError, "eth_accounts", cause)
	assert.Equal(t, cause, goerrors.Unwrap(err))
	assert.True(t, goerrors.Is(err, cause))

	assert.Nil(t, Errorf(ConfigNoYAML).Unwrap())

}

func TestIsCode(t *testing.T) {

	inner := Errorf(ReceiptNotMined)
	outer := Errorf(ReceiptRecoveryFailed, inner)
	wrapped := fmt.Errorf("wrapped: %w", outer)

	assert.True(t, IsCode(wrapped, ReceiptRecoveryFailed))
	assert.True(t, IsCode(wrapped, ReceiptNotMined))
	assert.False(t, IsCode(wrapped, ContentionTimeout))
	assert.False(t, IsCode(nil, ContentionTimeout))
	assert.False(t, IsCode(fmt.Errorf("plain"), ContentionTimeout))

}

func TestContentionTimeoutMessage(t *testing.T) {
	err := Errorf(ContentionTimeout, 1.5, 3)
	assert.Equal(t, "ETXS100100: Timed out after 1.50s waiting for an execution slot (3 waiting)", err.Error())
}

func TestDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		e(100000, "dup")
	})
}

func TestBadCode(t *testing.T) {
	assert.Panics(t, func() {
		e(0, "dup")
	})
}
