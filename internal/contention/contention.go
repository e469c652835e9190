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

package contention

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Conf configures the admission control in front of the ledger node
type Conf struct {
	MaxConcurrency int `json:"maxConcurrency"`
	WaitTimeoutMS  int `json:"waitTimeoutMS,omitempty"`
}

// WaitGauge receives the waiting count each time it changes
type WaitGauge interface {
	Set(float64)
}

// Task is a unit of work run while holding a permit
type Task func(ctx context.Context) (interface{}, error)

// Manager is a counting semaphore with a bounded wait for each task
type Manager struct {
	sem         *semaphore.Weighted
	permits     int64
	waiting     int64
	running     int64
	waitTimeout time.Duration
	gauge       WaitGauge
}

// NewManager builds a manager allowing at most conf.MaxConcurrency tasks at once
func NewManager(conf *Conf) (*Manager, error) {
	if conf.MaxConcurrency < 1 {
		return nil, errors.Errorf(errors.ConfigContentionInvalid, conf.MaxConcurrency)
	}
	return &Manager{
		sem:         semaphore.NewWeighted(int64(conf.MaxConcurrency)),
		permits:     int64(conf.MaxConcurrency),
		waitTimeout: time.Duration(conf.WaitTimeoutMS) * time.Millisecond,
	}, nil
}

// SetWaitGauge attaches a metrics gauge
func (m *Manager) SetWaitGauge(g WaitGauge) {
	m.gauge = g
}

// WaitingCount is the number of tasks currently blocked waiting for a permit
func (m *Manager) WaitingCount() int {
	return int(atomic.LoadInt64(&m.waiting))
}

// RunningCount is the number of tasks currently holding a permit
func (m *Manager) RunningCount() int {
	return int(atomic.LoadInt64(&m.running))
}

// Apply runs the task with the configured default wait timeout
func (m *Manager) Apply(ctx context.Context, task Task) (interface{}, error) {
	return m.ApplyWithTimeout(ctx, task, m.waitTimeout)
}

// ApplyWithTimeout acquires a permit, waiting at most waitTimeout (zero waits
// until ctx is done), runs the task, and always releases the permit.
// The task is never invoked if the permit could not be obtained.
func (m *Manager) ApplyWithTimeout(ctx context.Context, task Task, waitTimeout time.Duration) (res interface{}, err error) {
	acquireCtx := ctx
	if waitTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	start := time.Now()
	m.updateWaiting(1)
	err = m.sem.Acquire(acquireCtx, 1)
	waiting := m.updateWaiting(-1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("Contention timeout after %.2fs (permits=%d waiting=%d)", time.Since(start).Seconds(), m.permits, waiting)
		return nil, errors.Errorf(errors.ContentionTimeout, time.Since(start).Seconds(), waiting)
	}
	atomic.AddInt64(&m.running, 1)
	defer func() {
		atomic.AddInt64(&m.running, -1)
		m.sem.Release(1)
		if r := recover(); r != nil {
			err = errors.Errorf(errors.ContentionTaskPanicked, r)
			log.Errorf("%s", err)
		}
	}()
	log.Debugf("Contention permit acquired after %.2fs (waiting=%d)", time.Since(start).Seconds(), waiting)
	return task(ctx)
}

func (m *Manager) updateWaiting(delta int64) int {
	waiting := atomic.AddInt64(&m.waiting, delta)
	if m.gauge != nil {
		m.gauge.Set(float64(waiting))
	}
	return int(waiting)
}
