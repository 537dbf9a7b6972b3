package realtime_test

import (
	"context"
	"path"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/frahmantamala/stay-payments/pkg/redis"
)

type fakeStream struct {
	mu     sync.Mutex
	ch     chan *goredis.Message
	closed bool
}

func (f *fakeStream) Messages() <-chan *goredis.Message {
	return f.ch
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeStream) deliver(msg *goredis.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.ch <- msg
	}
}

// fakePubSub matches channels against patterns the way Redis does for the keys used here.
type fakePubSub struct {
	mu       sync.Mutex
	patterns map[string][]*fakeStream
	opened   int
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{patterns: map[string][]*fakeStream{}}
}

func (f *fakePubSub) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, streams := range f.patterns {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, stream := range streams {
			stream.deliver(&goredis.Message{Channel: channel, Pattern: pattern, Payload: string(payload)})
		}
	}
	return nil
}

func (f *fakePubSub) PSubscribe(_ context.Context, pattern string) (redis.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := &fakeStream{ch: make(chan *goredis.Message, 64)}
	f.patterns[pattern] = append(f.patterns[pattern], stream)
	f.opened++
	return stream, nil
}

func (f *fakePubSub) RealtimeChannel(topic, id string) string {
	return "rt:" + topic + ":" + id
}

func (f *fakePubSub) RealtimePattern(topic string) string {
	return "rt:" + topic + ":*"
}

func (f *fakePubSub) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

var _ = Describe("RedisSource", func() {
	var (
		ctx    context.Context
		client *fakePubSub
		source *realtime.RedisSource
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newFakePubSub()
		source = realtime.NewRedisSource(client, logger.Discard())
	})

	AfterEach(func() {
		Expect(source.Close()).To(Succeed())
	})

	It("opens one connection per topic however many rows are watched", func() {
		for _, id := range []string{"v1", "v2", "v3"} {
			sub, err := source.Subscribe(ctx, realtime.TopicVisitRequests, id)
			Expect(err).ToNot(HaveOccurred())
			defer sub.Close()
		}
		Expect(client.connections()).To(Equal(1))

		sub, err := source.Subscribe(ctx, realtime.TopicPaymentIntents, "p1")
		Expect(err).ToNot(HaveOccurred())
		defer sub.Close()
		Expect(client.connections()).To(Equal(2))
	})

	It("routes an update only to subscribers of that row", func() {
		mine, err := source.Subscribe(ctx, realtime.TopicVisitRequests, "v1")
		Expect(err).ToNot(HaveOccurred())
		defer mine.Close()
		other, err := source.Subscribe(ctx, realtime.TopicVisitRequests, "v2")
		Expect(err).ToNot(HaveOccurred())
		defer other.Close()

		event, err := realtime.NewRowUpdated(realtime.TopicVisitRequests, "v1", row{ID: "v1", Status: "cancelled"})
		Expect(err).ToNot(HaveOccurred())
		Expect(source.Publish(ctx, event)).To(Succeed())

		var got realtime.Event
		Eventually(mine.Events()).Should(Receive(&got))
		var decoded row
		Expect(got.Decode(&decoded)).To(Succeed())
		Expect(decoded.Status).To(Equal("cancelled"))
		Consistently(other.Events(), 50*time.Millisecond).ShouldNot(Receive())
	})

	It("closes open subscriptions and refuses new ones after Close", func() {
		sub, err := source.Subscribe(ctx, realtime.TopicVisitRequests, "v1")
		Expect(err).ToNot(HaveOccurred())

		Expect(source.Close()).To(Succeed())

		Eventually(sub.Events()).Should(BeClosed())
		_, err = source.Subscribe(ctx, realtime.TopicVisitRequests, "v2")
		Expect(err).To(MatchError(realtime.ErrHubStopped))
	})
})
