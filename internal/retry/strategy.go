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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultScheduleMS is the backoff applied between ledger node calls. The last
// entry repeats if more retries are configured than there are entries
var DefaultScheduleMS = []int{2000, 3000, 4500, 6750, 10125, 15187, 22780, 30000}

// Conf is the YAML/JSON configuration for the retry strategy
type Conf struct {
	ScheduleMS []int `json:"scheduleMS,omitempty"`
	MaxRetries *int  `json:"maxRetries,omitempty"`
}

// Classifier returns true if the error should be retried
type Classifier func(err error) bool

// Strategy wraps calls with a fixed schedule of delays, and a classifier
// that decides whether each failure is worth another attempt
type Strategy struct {
	Schedule   []time.Duration
	MaxRetries int
	Classifier Classifier
}

// NewStrategy builds a strategy from config, defaulting the schedule and
// setting the max retries to the schedule length
func NewStrategy(conf *Conf) (*Strategy, error) {
	scheduleMS := conf.ScheduleMS
	if len(scheduleMS) == 0 {
		scheduleMS = DefaultScheduleMS
	}
	schedule := make([]time.Duration, len(scheduleMS))
	for i, ms := range scheduleMS {
		if ms < 0 {
			return nil, errors.Errorf(errors.ConfigRetryScheduleInvalid, i)
		}
		schedule[i] = time.Duration(ms) * time.Millisecond
	}
	maxRetries := len(schedule)
	if conf.MaxRetries != nil && *conf.MaxRetries >= 0 {
		maxRetries = *conf.MaxRetries
	}
	return &Strategy{
		Schedule:   schedule,
		MaxRetries: maxRetries,
		Classifier: IsRetryable,
	}, nil
}

// WithMaxRetries returns a copy of the strategy with a different retry bound
func (s *Strategy) WithMaxRetries(maxRetries int) *Strategy {
	return &Strategy{
		Schedule:   s.Schedule,
		MaxRetries: maxRetries,
		Classifier: s.Classifier,
	}
}

type scheduleBackOff struct {
	schedule []time.Duration
	pos      int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if len(b.schedule) == 0 {
		return 0
	}
	idx := b.pos
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}
	b.pos++
	return b.schedule[idx]
}

func (b *scheduleBackOff) Reset() {
	b.pos = 0
}

// Do invokes fn, retrying while the classifier allows it, up to MaxRetries
// retries. The last error from fn is returned unchanged when retries are exhausted
func (s *Strategy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	classifier := s.Classifier
	if classifier == nil {
		classifier = IsRetryable
	}
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err) {
			log.Debugf("%s attempt=%d failed with non-retryable error: %s", name, attempt, err)
			return backoff.Permanent(err)
		}
		return err
	}
	var b backoff.BackOff = &scheduleBackOff{schedule: s.Schedule}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.MaxRetries)), ctx)
	err := backoff.RetryNotify(operation, b, func(err error, delay time.Duration) {
		log.Warnf("%s attempt=%d/%d failed (retry in %dms): %s", name, attempt, s.MaxRetries+1, delay.Milliseconds(), err)
	})
	if err != nil && attempt > s.MaxRetries {
		log.Errorf("%s failed after %d attempts: %s", name, attempt, err)
	}
	return err
}
