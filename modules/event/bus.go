package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// PoisonQueueTopic receives events whose handler kept failing after retries.
const PoisonQueueTopic = "poison_queue"

// Metadata keys set on every published message.
const (
	MetadataEventID   = "event_id"
	MetadataEventName = "event_name"
)

// Bus is an in-process event bus backed by a watermill router over a Go channel pub/sub.
type Bus struct {
	router    *message.Router
	pubSub    *gochannel.GoChannel
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	mu       sync.Mutex
	handlers int
}

var _ core.EventBus = (*Bus)(nil)

func NewBus(sl *slog.Logger) (*Bus, error) {
	logger := watermill.NewSlogLogger(sl)
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.InfraError(err)
	}
	// PreserveContext keeps the publisher's context on the message, handlers need it for tracing.
	pubSub := gochannel.NewGoChannel(gochannel.Config{PreserveContext: true}, logger)
	publisher, err := TraceContextDecorator(pubSub)
	if err != nil {
		return nil, errors.InfraError(err)
	}
	router.AddPlugin(plugin.SignalsHandler)
	return &Bus{router: router, pubSub: pubSub, publisher: publisher, logger: logger}, nil
}

func (b *Bus) Use(middleware ...message.HandlerMiddleware) {
	b.router.AddMiddleware(middleware...)
}

// Publish encodes event as JSON onto the topic named after the event.
// It does not wait for subscribers.
func (b *Bus) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.ValidationError(err)
	}
	msg := message.NewMessageWithContext(ctx, watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventID, event.EventID())
	msg.Metadata.Set(MetadataEventName, event.EventName())
	if err := b.publisher.Publish(event.EventName(), msg); err != nil {
		return errors.InfraError(err)
	}
	return nil
}

// Subscribe routes the topic of prototype to handler. Each message is decoded
// into a fresh value of the prototype's type.
func (b *Bus) Subscribe(prototype core.Event, handler core.EventHandler[core.Event]) error {
	eventName := prototype.EventName()
	eventType := reflect.TypeOf(prototype)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	// Handler names must be unique per router.
	b.mu.Lock()
	b.handlers++
	handlerName := fmt.Sprintf("%s.%s.%d", eventName, eventType.Name(), b.handlers)
	b.mu.Unlock()

	b.router.AddNoPublisherHandler(
		handlerName,
		eventName,
		b.pubSub,
		func(msg *message.Message) error {
			newEvent := reflect.New(eventType).Interface()
			if err := json.Unmarshal(msg.Payload, newEvent); err != nil {
				return err
			}

			evt, ok := newEvent.(core.Event)
			if !ok {
				return fmt.Errorf("%s does not implement core.Event", eventType)
			}
			return handler.Handle(msg.Context(), evt)
		},
	)
	return nil
}

// Run starts the router and blocks until ctx is done or the router stops.
func (b *Bus) Run(ctx context.Context) error {
	poisonQueueMiddleware, err := middleware.PoisonQueue(b.pubSub, PoisonQueueTopic)
	if err != nil {
		return errors.InfraError(err)
	}

	retryMiddleware := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Millisecond * 100,
		MaxInterval:     time.Second * 1,
		Multiplier:      2.0,
		Logger:          b.logger,
	}

	b.router.AddMiddleware(
		retryMiddleware.Middleware,
		poisonQueueMiddleware,
	)

	return b.router.Run(ctx)
}

// Running is closed once every handler has started.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return errors.InfraError(err)
	}
	return b.pubSub.Close()
}
