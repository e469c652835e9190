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
	"net/url"
	"os"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// This module provides an abstraction layer for the RPC structs of the go-ethereum/rpc
// package, as mockable interfaces

// RPCConf is the standard snippet to include in YAML config for RPC
type RPCConf struct {
	RPC RPCConnOpts `json:"rpc"`
}

// RPCConnOpts configuration params
type RPCConnOpts struct {
	URL string `json:"url"`
}

// RPCConnect wraps rpc.Dial with useful logging, avoiding logging username/password
func RPCConnect(ctx context.Context, conf *RPCConnOpts) (RPCClientAll, error) {
	if conf.URL == "" {
		return nil, errors.Errorf(errors.ConfigNoRPC)
	}
	u, _ := url.Parse(conf.URL)
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "xxxxxx")
	}
	rpcClient, err := rpc.DialContext(ctx, conf.URL)
	if err != nil {
		return nil, errors.Errorf(errors.RPCConnectFailed, u, err)
	}
	log.Infof("New JSON/RPC connection established")
	log.Debugf("JSON/RPC connected to %s", u)
	return &rpcWrapper{rpc: rpcClient}, nil
}

// CobraInitRPC sets the standard command-line parameters for RPC
func CobraInitRPC(cmd *cobra.Command, rconf *RPCConf) {
	cmd.Flags().StringVarP(&rconf.RPC.URL, "rpc-url", "r", os.Getenv("ETH_RPC_URL"), "JSON/RPC URL for Ethereum node")
}

// rpc.Client methods with original types that we expose - only used within this package.
type rcpClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type rpcWrapper struct {
	rpc rcpClient
}

func (w *rpcWrapper) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	log.Tracef("RPC [%s] --> %+v", method, args)
	err := w.rpc.CallContext(ctx, result, method, args...)
	log.Tracef("RPC [%s] <-- %+v", method, result)
	return err
}

func (w *rpcWrapper) Close() {
	w.rpc.Close()
}

// RPCClientAll has both the call and close interfaces (splitting out helps callers with limiting their mocks)
type RPCClientAll interface {
	RPCClosable
	RPCClient
}

// RPCClosable contains the close
type RPCClosable interface {
	Close()
}

// RPCClient refers to the functions from the ethereum RPC client that we use
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}
