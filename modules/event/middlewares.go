package event

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "jobsys-event-bus"

// OTelMiddleware runs each handler inside a consumer span, continuing the
// trace injected by TraceContextDecorator when one is present.
func OTelMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))

		name := msg.Metadata.Get(MetadataEventName)
		if name == "" {
			name = message.SubscribeTopicFromCtx(msg.Context())
		}
		ctx, span := otel.Tracer(tracerName).Start(ctx, "handle "+name,
			trace.WithAttributes(
				attribute.String("messaging.system", "watermill"),
				attribute.String("messaging.message_id", msg.UUID),
				attribute.String("messaging.destination", message.SubscribeTopicFromCtx(msg.Context())),
				attribute.String("messaging.handler", message.HandlerNameFromCtx(msg.Context())),
				attribute.String("jobsys.event_id", msg.Metadata.Get(MetadataEventID)),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		msg.SetContext(ctx)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		return msgs, err
	}
}

// TraceContextDecorator copies the span context of every outgoing message into
// its metadata. Bus wraps its publisher with it.
func TraceContextDecorator(pub message.Publisher) (message.Publisher, error) {
	return &traceContextPublisher{pub}, nil
}

type traceContextPublisher struct {
	message.Publisher
}

func (t *traceContextPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		otel.GetTextMapPropagator().Inject(msg.Context(), propagation.MapCarrier(msg.Metadata))
	}
	return t.Publisher.Publish(topic, messages...)
}
