package event_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/modules/event"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestEvent struct {
	ID        string
	Timestamp time.Time
	Payload   string
}

func (e TestEvent) EventID() string       { return e.ID }
func (e TestEvent) EventName() string     { return "test.event" }
func (e TestEvent) OccurredOn() time.Time { return e.Timestamp }

type channelHandler[E core.Event] struct {
	received chan E
}

func (h *channelHandler[E]) Handle(ctx context.Context, e E) error {
	h.received <- e
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func runBus(t *testing.T, bus *event.Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := bus.Run(ctx); err != nil {
			t.Logf("bus stopped: %v", err)
		}
	}()

	select {
	case <-bus.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not start")
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus, err := event.NewBus(discard)
	require.NoError(t, err)
	bus.Use(event.OTelMiddleware)

	handler := &channelHandler[*TestEvent]{received: make(chan *TestEvent, 1)}
	require.NoError(t, core.SubscribeEvent[*TestEvent](bus, handler))
	runBus(t, bus)

	sent := &TestEvent{ID: "123", Timestamp: time.Now(), Payload: "hello"}
	require.NoError(t, bus.Publish(context.Background(), sent))

	select {
	case got := <-handler.received:
		assert.Equal(t, sent.Payload, got.Payload)
		assert.Equal(t, sent.ID, got.EventID())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_MessageMetadata(t *testing.T) {
	bus, err := event.NewBus(discard)
	require.NoError(t, err)

	metadata := make(chan message.Metadata, 1)
	bus.Use(func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			metadata <- msg.Metadata
			return h(msg)
		}
	}, event.OTelMiddleware)

	handler := &channelHandler[*TestEvent]{received: make(chan *TestEvent, 1)}
	require.NoError(t, core.SubscribeEvent[*TestEvent](bus, handler))
	runBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), &TestEvent{ID: "evt-1", Timestamp: time.Now()}))

	select {
	case md := <-metadata:
		assert.Equal(t, "evt-1", md.Get(event.MetadataEventID))
		assert.Equal(t, "test.event", md.Get(event.MetadataEventName))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	<-handler.received
}

func TestPublisher_JobSettled(t *testing.T) {
	bus, err := event.NewBus(discard)
	require.NoError(t, err)

	handler := &channelHandler[*event.JobSettledEvent]{received: make(chan *event.JobSettledEvent, 4)}
	require.NoError(t, core.SubscribeEvent[*event.JobSettledEvent](bus, handler))
	require.NoError(t, core.SubscribeEvent[*event.JobSettledEvent](bus, &event.LogHandler{Logger: discard}))
	runBus(t, bus)

	sys, err := jobsystem.Create(jobsystem.DefaultParams(), jobsystem.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(sys.Destroy)
	sys.Observe(event.NewPublisher(bus, sys.ID(), discard))

	h := sys.CreateJob(core.Job{
		Process: func(context.Context, core.JobSystem, core.Handle, any, any) int32 { return 4 },
	})
	require.NoError(t, sys.PushJob(h))
	sys.Update(time.Hour)

	select {
	case got := <-handler.received:
		assert.Equal(t, event.JobSettledEventName, got.EventName())
		assert.Equal(t, sys.ID(), got.SystemID)
		assert.Equal(t, h.String(), got.Job)
		assert.Equal(t, uint64(h), got.Handle)
		assert.Equal(t, "finished", got.Status)
		assert.Equal(t, int32(4), got.Result)
		assert.NotEmpty(t, got.EventID())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job event")
	}
}
