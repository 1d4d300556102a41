package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/ThreeDotsLabs/watermill"
)

const JobSettledEventName = "job.settled"

// JobSettledEvent is published once per job after its callback has run.
type JobSettledEvent struct {
	ID       string        `json:"id"`
	SystemID string        `json:"system_id"`
	Job      string        `json:"job"`
	Handle   uint64        `json:"handle"`
	Parent   uint64        `json:"parent,omitempty"`
	Status   string        `json:"status"`
	Result   int32         `json:"result"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

func (e *JobSettledEvent) EventID() string       { return e.ID }
func (e *JobSettledEvent) EventName() string     { return JobSettledEventName }
func (e *JobSettledEvent) OccurredOn() time.Time { return e.At }

// Publisher forwards settled jobs to an event bus. It implements
// core.JobObserver and never blocks the dispatcher on subscribers.
type Publisher struct {
	bus      core.EventBus
	systemID string
	logger   *slog.Logger
}

var _ core.JobObserver = (*Publisher)(nil)

func NewPublisher(bus core.EventBus, systemID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:      bus,
		systemID: systemID,
		logger:   logger.With("component", "event"),
	}
}

func (p *Publisher) JobSettled(e core.JobEvent) {
	evt := &JobSettledEvent{
		ID:       watermill.NewUUID(),
		SystemID: p.systemID,
		Job:      e.Job.String(),
		Handle:   uint64(e.Job),
		Parent:   uint64(e.Parent),
		Status:   e.Status.String(),
		Result:   e.Result,
		Duration: e.Duration,
		At:       e.At,
	}
	if err := p.bus.Publish(context.Background(), evt); err != nil {
		p.logger.Error("failed to publish job event", "job", evt.Job, "error", err)
	}
}

// LogHandler logs every canceled or non-zero job outcome.
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) Handle(ctx context.Context, e *JobSettledEvent) error {
	if e.Status == core.StatusFinished.String() && e.Result == 0 {
		return nil
	}
	h.Logger.InfoContext(ctx, "job settled",
		"job", e.Job,
		"status", e.Status,
		"result", e.Result,
		"duration", e.Duration,
		"system_id", e.SystemID,
	)
	return nil
}
