package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/frahmantamala/stay-payments/pkg/redis"
)

// PubSubClient is the part of pkg/redis.Client the Redis source needs.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) (redis.Stream, error)
	RealtimeChannel(topic, id string) string
	RealtimePattern(topic string) string
}

// RedisSource fans row updates out across processes over Redis pub/sub. Each topic holds a single
// pattern subscription, and row subscribers are served from an in-process Hub.
type RedisSource struct {
	client PubSubClient
	logger *slog.Logger
	local  *Hub

	mu      sync.Mutex
	streams map[string]redis.Stream
	closed  bool
	pumps   sync.WaitGroup
}

func NewRedisSource(client PubSubClient, logger *slog.Logger) *RedisSource {
	return &RedisSource{
		client:  client,
		logger:  logger,
		local:   NewHub(logger),
		streams: make(map[string]redis.Stream),
	}
}

func (s *RedisSource) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	if err := s.client.Publish(ctx, s.client.RealtimeChannel(event.Topic, event.ID), payload); err != nil {
		return fmt.Errorf("publish realtime event %s/%s: %w", event.Topic, event.ID, err)
	}
	return nil
}

func (s *RedisSource) Subscribe(ctx context.Context, topic, id string) (Subscription, error) {
	if err := s.listen(ctx, topic); err != nil {
		return nil, err
	}
	return s.local.Subscribe(ctx, topic, id)
}

// listen opens the topic's pattern subscription on first use.
func (s *RedisSource) listen(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrHubStopped
	}
	if _, ok := s.streams[topic]; ok {
		return nil
	}
	// the stream outlives the request that opened it
	stream, err := s.client.PSubscribe(context.WithoutCancel(ctx), s.client.RealtimePattern(topic))
	if err != nil {
		return fmt.Errorf("subscribe realtime topic %s: %w", topic, err)
	}
	s.streams[topic] = stream
	s.pumps.Add(1)
	go s.pump(topic, stream)
	s.logger.Debug("realtime topic subscribed", "topic", topic)
	return nil
}

func (s *RedisSource) pump(topic string, stream redis.Stream) {
	defer s.pumps.Done()
	for msg := range stream.Messages() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warn("dropping malformed realtime message", "channel", msg.Channel, "error", err)
			continue
		}
		if event.Topic != topic {
			continue
		}
		_ = s.local.Publish(context.Background(), event)
	}
}

// Close ends the topic subscriptions and closes every open Subscription. Later Subscribe calls fail.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()

	var errs error
	for topic, stream := range streams {
		if err := stream.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close realtime topic %s: %w", topic, err))
		}
	}
	s.pumps.Wait()
	s.local.Stop()
	return errs
}
