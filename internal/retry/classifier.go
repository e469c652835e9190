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

package retry

import (
	"context"
	goerrors "errors"
	"strings"
)

// Messages returned by ledger nodes (and their client libraries) that are
// transient, and worth retrying
var transientSignatures = []string{
	"invalid json rpc response",
	"rate limit",
	"node temporarily unavailable",
	"failed to check for transaction receipt",
}

// Messages that we know are terminal. Anything else that is not transient
// is also terminal, so this list is informational for the classifier
var terminalSignatures = []string{
	"nonce too low",
	"account already exists",
	"the contract code couldn't be stored, please check your gas limit",
}

// RetryableError forces a retry, regardless of the message of the error it wraps
type RetryableError struct {
	Err error
}

// NewRetryableError wraps an error so it will always be retried
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

func (r *RetryableError) Error() string {
	return r.Err.Error()
}

func (r *RetryableError) Unwrap() error {
	return r.Err
}

// IsRetryable is the default classifier for ledger node calls
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	if goerrors.As(err, &re) {
		return true
	}
	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsTransient(err)
}

// IsTransient matches only the transient message signatures, ignoring any
// explicit RetryableError wrapping
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range terminalSignatures {
		if strings.Contains(msg, sig) {
			return false
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
