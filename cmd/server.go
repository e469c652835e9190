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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/contention"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/kafka"
	"github.com/kaleido-io/ethtxsubmit/internal/keys"
	"github.com/kaleido-io/ethtxsubmit/internal/metrics"
	"github.com/kaleido-io/ethtxsubmit/internal/nonce"
	"github.com/kaleido-io/ethtxsubmit/internal/notify"
	"github.com/kaleido-io/ethtxsubmit/internal/reconcile"
	"github.com/kaleido-io/ethtxsubmit/internal/retry"
	"github.com/kaleido-io/ethtxsubmit/internal/submitter"
	"github.com/kaleido-io/ethtxsubmit/internal/telemetry"
	"github.com/kaleido-io/ethtxsubmit/internal/txmgr"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// server holds every component of the engine, wired together
type server struct {
	rpc        eth.RPCClientAll
	stores     *txstore.Stores
	contention *contention.Manager
	keys       keys.Provider
	manager    *txmgr.Manager
	reconciler *reconcile.Service
	submitter  *submitter.Service
}

var publisherFactory = newPublisher

func newPublisher(conf *kafka.Conf) (notify.Publisher, string, error) {
	if !conf.Enabled() {
		log.Warnf("No Kafka brokers configured. Notifications will be logged")
		return &notify.LogPublisher{}, conf.RoutingKeyPrefix, nil
	}
	if err := kafka.ValidateConf(conf); err != nil {
		return nil, "", err
	}
	p, err := kafka.NewPublisher(conf)
	if err != nil {
		return nil, "", err
	}
	return p, p.RoutingKeyPrefix(), nil
}

func newServer(ctx context.Context, conf *ServerConfig, rpc eth.RPCClientAll, reg prometheus.Registerer) (s *server, err error) {
	strategy, err := retry.NewStrategy(&conf.Retry)
	if err != nil {
		return nil, err
	}
	cm, err := contention.NewManager(&conf.Contention)
	if err != nil {
		return nil, err
	}
	keyProvider, err := keys.NewProvider(&conf.Keys)
	if err != nil {
		return nil, err
	}
	ledger, err := eth.NewLedgerClient(&conf.Transactions.LedgerConf, rpc, strategy)
	if err != nil {
		return nil, err
	}

	stores, err := txstore.New(ctx, &conf.Store)
	if err != nil {
		return nil, err
	}
	publisher, routingKeyPrefix, err := publisherFactory(&conf.Kafka)
	if err != nil {
		stores.Close()
		return nil, err
	}

	m := metrics.New(reg)
	cm.SetWaitGauge(m.ContentionWaiting())
	m.ContentionRunning(reg, cm.RunningCount)

	txConf := conf.Transactions.Conf
	txConf.RoutingKeyPrefix = routingKeyPrefix
	manager := txmgr.NewManager(&txConf, &txmgr.Components{
		Ledger:    ledger,
		Signer:    eth.NewKeySigner(conf.ChainID),
		Allocator: nonce.NewAllocator(stores.Nonces, stores.Transactions),
		Store:     stores.Transactions,
		Publisher: publisher,
		Metrics:   m,
	})

	return &server{
		rpc:        rpc,
		stores:     stores,
		contention: cm,
		keys:       keyProvider,
		manager:    manager,
		reconciler: reconcile.NewService(&conf.Reconcile, stores.Transactions, ledger, manager, keyProvider, publisher, m),
		submitter:  submitter.NewService(&submitter.Conf{EagerSend: conf.Transactions.EagerSend}, stores.Transactions, manager, keyProvider, cm),
	}, nil
}

func (s *server) start() {
	s.reconciler.Start()
}

// stop shuts down in dependency order. The dispatch loops publish outcomes,
// so the publisher is only closed once they have exited
func (s *server) stop() {
	s.reconciler.Stop()
	s.manager.Close()
	s.reconciler.Close()
	s.stores.Close()
	s.rpc.Close()
}

func runServer(conf *ServerConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, &conf.Tracing)
	if err != nil {
		log.Warnf("Tracing disabled: %s", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warnf("Tracer shutdown: %s", err)
		}
	}()

	rpc, err := eth.RPCConnect(ctx, &conf.RPC)
	if err != nil {
		return err
	}
	s, err := newServer(ctx, conf, rpc, metricsRegistry)
	if err != nil {
		rpc.Close()
		return err
	}
	s.start()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals
	log.Infof("Received %s. Shutting down", sig)
	s.stop()
	return nil
}
