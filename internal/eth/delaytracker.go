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

// Moving average logic builds upon
// https://github.com/RobinUS2/golang-moving-average/blob/master/d.go

package eth

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Receipt polling backoff. Polling gives up at the receipt timeout of the
// ledger client, not here
const (
	// receipt times averaged over
	receiptWindow = 100
	minPollDelay  = 100 * time.Millisecond
	maxPollDelay  = 10 * time.Second
	// growth of each retry delay over the last
	pollBackoffFactor = 1.3
	// the first poll waits for most of the average time to receipt
	initialDelayFraction = 0.8
	// retries start from a small slice of the first delay
	firstRetryFraction = 0.15
	// every tracerEvery sends, the first poll comes early to detect a faster block period
	tracerEvery   = 25
	tracerDivisor = 5
	// an early receipt faster than this ratio of the average discards the window
	tracerResetRatio = 0.3
)

// DelayTracker decides how long to wait between receipt polls, learning
// from how long previous receipts took to arrive
type DelayTracker interface {
	GetInitialDelay() (delay time.Duration)
	GetRetryDelay(initialDelay time.Duration, retry int) (delay time.Duration)
	ReportSuccess(timeTaken time.Duration)
}

// delayTracker is shared by all the polling goroutines of a ledger client
type delayTracker struct {
	mux         sync.Mutex
	count       uint64
	window      int
	values      []float64
	valPos      int
	slotsFilled bool
}

// NewDelayTracker constructs a tracker with an empty window
func NewDelayTracker() DelayTracker {
	d := &delayTracker{
		window: receiptWindow,
	}
	d.reset()
	return d
}

func (d *delayTracker) GetInitialDelay() (delay time.Duration) {
	d.mux.Lock()
	defer d.mux.Unlock()
	delay = time.Duration(int64(d.avg()*initialDelayFraction)) * time.Millisecond
	d.count++
	if (d.count % tracerEvery) == 0 {
		log.Debugf("Receipt tracer at count=%d delay=%.2fs", d.count, delay.Seconds())
		delay = delay / tracerDivisor
	}
	if delay < minPollDelay {
		delay = minPollDelay
	}
	if delay > maxPollDelay {
		delay = maxPollDelay
	}
	return delay
}

func (d *delayTracker) GetRetryDelay(initialDelay time.Duration, retry int) (delay time.Duration) {
	millis := firstRetryFraction * (float64(initialDelay.Nanoseconds()) / float64(time.Millisecond))
	for i := 0; i < retry; i++ {
		millis = millis * pollBackoffFactor
		delay = time.Duration(millis) * time.Millisecond
		if delay > maxPollDelay {
			delay = maxPollDelay
			break
		}
	}
	return delay
}

func (d *delayTracker) ReportSuccess(timeTaken time.Duration) {
	d.mux.Lock()
	defer d.mux.Unlock()
	val := float64(timeTaken.Nanoseconds()) / float64(time.Millisecond)
	avg := d.avg()

	// A tracer that came back far faster than average means the
	// average is stale (the block period has dropped)
	if avg > 0 && (val/avg) <= tracerResetRatio {
		log.Debugf("Receipt tracer reset val=%.2fms avg=%.2fms threshold=%.2f", val, avg, tracerResetRatio)
		d.reset()
	}

	d.add(val)
	log.Debugf("Obtained receipt after %.2fms - average time to receipt: %.2fms", val, d.avg())
}

func (d *delayTracker) avg() float64 {
	filled := d.window
	if !d.slotsFilled {
		filled = d.valPos
	}
	if filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < filled; i++ {
		sum += d.values[i]
	}
	return sum / float64(filled)
}

func (d *delayTracker) add(val float64) {
	d.values[d.valPos] = val
	d.valPos = (d.valPos + 1) % d.window
	if !d.slotsFilled && d.valPos == 0 {
		d.slotsFilled = true
	}
}

func (d *delayTracker) reset() {
	d.values = make([]float64, d.window)
	d.valPos = 0
	d.slotsFilled = false
}
