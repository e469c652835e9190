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
	"time"

	"github.com/Shopify/sarama"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/notify"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	log "github.com/sirupsen/logrus"
)

// ProducerFactory creates the sarama producer, allowing a mock to be injected
type ProducerFactory interface {
	NewSyncProducer(brokers []string, conf *sarama.Config) (sarama.SyncProducer, error)
}

type saramaFactory struct{}

func (f saramaFactory) NewSyncProducer(brokers []string, conf *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, conf)
}

// Publisher sends notifications to a single topic, keyed by routing key so
// all notifications for one requester land on the same partition
type Publisher struct {
	conf     *Conf
	producer sarama.SyncProducer
}

// NewPublisher connects a synchronous producer to the configured brokers
func NewPublisher(conf *Conf) (*Publisher, error) {
	return newPublisher(saramaFactory{}, conf)
}

func newSaramaConfig(conf *Conf) (*sarama.Config, error) {
	tlsConfig, err := utils.CreateTLSConfiguration(&conf.TLS)
	if err != nil {
		return nil, err
	}

	clientConf := sarama.NewConfig()
	if conf.SASL.Username != "" && conf.SASL.Password != "" {
		clientConf.Net.SASL.Enable = true
		clientConf.Net.SASL.User = conf.SASL.Username
		clientConf.Net.SASL.Password = conf.SASL.Password
	}
	clientConf.Producer.Return.Successes = true
	clientConf.Producer.Return.Errors = true
	clientConf.Producer.RequiredAcks = sarama.WaitForAll
	clientConf.Metadata.Retry.Backoff = 2 * time.Second
	clientConf.Version = sarama.V2_0_0_0
	clientConf.Net.TLS.Enable = (tlsConfig != nil)
	clientConf.Net.TLS.Config = tlsConfig
	clientConf.ClientID = conf.ClientID
	if clientConf.ClientID == "" {
		clientConf.ClientID = utils.UUIDv4()
	}
	log.Debugf("Kafka ClientID: %s", clientConf.ClientID)
	return clientConf, nil
}

func newPublisher(factory ProducerFactory, conf *Conf) (*Publisher, error) {
	if err := ValidateConf(conf); err != nil {
		return nil, err
	}
	sarama.Logger = saramaLogger{}
	clientConf, err := newSaramaConfig(conf)
	if err != nil {
		return nil, err
	}
	log.Debugf("Kafka Bootstrap brokers: %s", conf.Brokers)
	producer, err := factory.NewSyncProducer(conf.Brokers, clientConf)
	if err != nil {
		log.Errorf("Failed to create Kafka producer: %s", err)
		return nil, err
	}
	log.Infof("Kafka producer created Topic=%s", conf.TopicOut)
	return &Publisher{conf: conf, producer: producer}, nil
}

// RoutingKeyPrefix is the configured prefix for routing keys
func (p *Publisher) RoutingKeyPrefix() string {
	return p.conf.RoutingKeyPrefix
}

// Publish blocks until the broker acknowledges the notification
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload *notify.Notification) error {
	b, err := payload.Marshal()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.conf.TopicOut,
		Key:   sarama.StringEncoder(routingKey),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("messageType"), Value: []byte(payload.MessageType)},
		},
	}
	injectTraceHeaders(ctx, msg)
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Errorf(errors.NotificationPublishFailed, payload.MessageType, payload.TxID, err)
	}
	log.Infof("TX:%s notification %s published [%d:%d]", payload.TxID, routingKey, partition, offset)
	return nil
}

func (p *Publisher) Close() {
	if err := p.producer.Close(); err != nil {
		log.Warnf("Kafka producer close failed: %s", err)
	}
}
