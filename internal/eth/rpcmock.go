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
	"context"
	"fmt"
	"sync"
)

// MockRPCHandler is invoked for every call on a MockRPCClient. It can
// set the result (via reflection, or a type assertion on the pointer) and
// returns the error for the call
type MockRPCHandler func(method string, result interface{}, args ...interface{}) error

// MockRPCClient implements RPCClientAll, for use in tests of other packages
type MockRPCClient struct {
	Handler MockRPCHandler
	Closed  bool

	mux     sync.Mutex
	methods []string
	args    [][]interface{}
}

// NewMockRPCClient constructs a mock with the supplied handler
func NewMockRPCClient(handler MockRPCHandler) *MockRPCClient {
	return &MockRPCClient{Handler: handler}
}

// CallContext invokes the handler, and captures the method and args
func (m *MockRPCClient) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	m.mux.Lock()
	m.methods = append(m.methods, method)
	m.args = append(m.args, args)
	m.mux.Unlock()
	if m.Handler == nil {
		panic(fmt.Errorf("method unknown to test: %s", method))
	}
	return m.Handler(method, result, args...)
}

// Methods returns the captured methods, in call order
func (m *MockRPCClient) Methods() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string{}, m.methods...)
}

// Args returns the captured args of the i'th call
func (m *MockRPCClient) Args(i int) []interface{} {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.args[i]
}

// CallCount returns the number of times a method was called
func (m *MockRPCClient) CallCount(method string) int {
	m.mux.Lock()
	defer m.mux.Unlock()
	count := 0
	for _, called := range m.methods {
		if called == method {
			count++
		}
	}
	return count
}

// Close captures the fact close was called
func (m *MockRPCClient) Close() {
	m.Closed = true
}
