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

package kafka

import (
	"context"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	assert := assert.New(t)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg := &sarama.ProducerMessage{
		Headers: []sarama.RecordHeader{{Key: []byte("messageType"), Value: []byte("test")}},
	}
	injectTraceHeaders(ctx, msg)
	assert.Len(msg.Headers, 2)
	carrier := &headerCarrier{headers: msg.Headers}
	assert.Equal("test", carrier.Get("MessageType"))
	assert.Contains(carrier.Keys(), "traceparent")

	carrier.Set("messageType", "other")
	assert.Equal("other", carrier.Get("messageType"))
	assert.Equal("", carrier.Get("missing"))

	extracted := trace.SpanContextFromContext(ExtractTraceHeaders(context.Background(), msg.Headers))
	assert.Equal(traceID, extracted.TraceID())
	assert.True(extracted.IsRemote())
}

func TestTraceHeadersNoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	msg := &sarama.ProducerMessage{}
	injectTraceHeaders(context.Background(), msg)
	assert.Empty(t, msg.Headers)
}
