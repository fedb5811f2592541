// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink fans the bounded decision log out to a durable topic. It is
// an archival destination, not the hot path: the ingress filter chain
// never blocks on it, only the decision log Archiver's background tick
// does.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous, idempotent producer to the given
// brokers. Idempotence plus acks=all means a retried send after a
// transient broker error is deduplicated by the broker rather than
// double-archiving an entry.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return &KafkaSink{producer: producer, topic: topic}, nil
}

// Write publishes each entry keyed by its decision log id, so consumers
// partition and can dedup on that key.
func (k *KafkaSink) Write(ctx context.Context, entries []Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	for _, e := range entries {
		msg := &sarama.ProducerMessage{
			Topic:     k.topic,
			Key:       sarama.StringEncoder(e.ID),
			Value:     sarama.ByteEncoder(e.Payload),
			Timestamp: time.Now(),
		}
		if _, _, err := k.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("kafka produce id=%s: %w", e.ID, err)
		}
	}
	return nil
}

// Close releases the producer's broker connections.
func (k *KafkaSink) Close() error { return k.producer.Close() }
