// Package ingest consumes raw activity feeds, normalizes them into
// events and metric snapshots, and submits them to the engine.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Message is one raw feed record with its originating topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Source is an abstract feed of raw messages. Implemented by KafkaSource
// in production and ChannelSource in tests.
type Source interface {
	Start(ctx context.Context) error
	Messages() <-chan Message
	Close() error
}

// KafkaSource consumes the activity topics using segmentio/kafka-go,
// one reader goroutine per topic, sharing a consumer group.
type KafkaSource struct {
	brokers string
	groupID string
	topics  []string

	mu       sync.Mutex
	readers  []*kafka.Reader
	messages chan Message
}

// NewKafkaSource creates a source for the given comma-separated broker
// list and topics.
func NewKafkaSource(brokers, groupID string, topics []string) *KafkaSource {
	return &KafkaSource{
		brokers:  brokers,
		groupID:  groupID,
		topics:   topics,
		messages: make(chan Message, 100),
	}
}

// Start launches one reader per topic. Readers run until ctx is cancelled.
func (s *KafkaSource) Start(ctx context.Context) error {
	brokerList := strings.Split(s.brokers, ",")
	for _, topic := range s.topics {
		s.startReader(ctx, brokerList, topic)
	}
	return nil
}

func (s *KafkaSource) startReader(ctx context.Context, brokerList []string, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList,
		Topic:    topic,
		GroupID:  s.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	s.mu.Lock()
	s.readers = append(s.readers, reader)
	s.mu.Unlock()

	go func(r *kafka.Reader, t string) {
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka read error", "topic", t, "error", err)
				continue
			}
			s.messages <- Message{Topic: t, Key: msg.Key, Value: msg.Value}
		}
	}(reader, topic)
}

// Messages returns the merged message stream.
func (s *KafkaSource) Messages() <-chan Message { return s.messages }

// Close stops all readers and closes the stream.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.readers {
		r.Close()
	}
	close(s.messages)
	return nil
}

// ChannelSource is an in-process Source backed by a Go channel, for tests.
type ChannelSource struct {
	ch chan Message
}

// NewChannelSource creates an in-process source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{ch: make(chan Message, 100)}
}

func (s *ChannelSource) Start(ctx context.Context) error { return nil }

func (s *ChannelSource) Messages() <-chan Message { return s.ch }

func (s *ChannelSource) Close() error {
	close(s.ch)
	return nil
}

// Send pushes a message into the source, for tests.
func (s *ChannelSource) Send(msg Message) {
	s.ch <- msg
}
