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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayTrackerMovingAverage(t *testing.T) {
	assert := assert.New(t)

	d := NewDelayTracker().(*delayTracker)
	d.window = 5
	assert.Equal(float64(0), d.avg())
	d.add(2)
	assert.InDelta(2, d.avg(), 0.001)
	d.add(4)
	d.add(2)
	assert.InDelta(2.666, d.avg(), 0.001)
	d.add(4)
	d.add(2)
	assert.InDelta(2.8, d.avg(), 0.001)

	// Wraps into the first slot
	d.add(10)
	assert.InDelta(4.4, d.avg(), 0.001)
}

func TestDelayTrackerExponentialBackoff(t *testing.T) {
	assert := assert.New(t)

	d := NewDelayTracker()
	d.ReportSuccess(5 * time.Second)
	initDelay := d.GetInitialDelay()

	var lastDelay time.Duration
	for i := 1; i <= 20; i++ {
		delay := d.GetRetryDelay(initDelay, i)
		assert.True(delay > lastDelay || delay == maxPollDelay)
		lastDelay = delay
	}
	assert.Equal(maxPollDelay, lastDelay)
}

func TestDelayTrackerLimits(t *testing.T) {
	d := NewDelayTracker()
	assert.Equal(t, minPollDelay, d.GetInitialDelay())
	d.ReportSuccess(maxPollDelay * 2)
	assert.Equal(t, maxPollDelay, d.GetInitialDelay())
}

func TestDelayTrackerTracerAndReset(t *testing.T) {
	assert := assert.New(t)

	d := NewDelayTracker()

	var delay time.Duration
	for i := 0; i < tracerEvery-1; i++ {
		delay = d.GetInitialDelay()
		d.ReportSuccess(minPollDelay * 100)
	}
	normalInitDelay := time.Duration(float64(minPollDelay) * 100 * initialDelayFraction)
	assert.Equal(
		fmt.Sprintf("%.1fs", normalInitDelay.Seconds()),
		fmt.Sprintf("%.1fs", delay.Seconds()))
	highDelay := delay

	delay = d.GetInitialDelay()
	assert.Equal(
		fmt.Sprintf("%.1fs", (normalInitDelay/tracerDivisor).Seconds()),
		fmt.Sprintf("%.1fs", delay.Seconds()))

	resetDuration := time.Duration(float64(highDelay.Nanoseconds()) * tracerResetRatio * 0.99)
	d.ReportSuccess(resetDuration)
	delay = d.GetInitialDelay()
	assert.Equal(
		fmt.Sprintf("%.1fs", time.Duration(float64(resetDuration)*initialDelayFraction).Seconds()),
		fmt.Sprintf("%.1fs", delay.Seconds()))
}
