package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-mailbox/core"
)

const (
	JobIDDispatch = "mailbox.dispatch"
	JobIDPoll     = "mailbox.poll"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage describes one dispatched unit as a go-job message. The
// request id is the idempotency key.
func ToExecutionMessage(event core.DispatchEvent) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDDispatch,
		ScriptPath: strings.TrimSpace(event.Route),
		Parameters: map[string]any{
			"request_id": strings.TrimSpace(event.RequestID),
			"route":      strings.TrimSpace(event.Route),
			"timestamp":  event.Timestamp,
		},
		IdempotencyKey: strings.TrimSpace(event.RequestID),
	}
}

// FromWorkerEvent maps a go-job worker event back onto a dispatch event.
func FromWorkerEvent(event worker.Event) core.DispatchEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	out := core.DispatchEvent{
		Attempt:   event.Attempt,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
	if message == nil {
		return out
	}
	out.RequestID = strings.TrimSpace(message.IdempotencyKey)
	out.Route = strings.TrimSpace(message.ScriptPath)
	if route, ok := message.Parameters["route"].(string); ok && out.Route == "" {
		out.Route = route
	}
	switch ts := message.Parameters["timestamp"].(type) {
	case int64:
		out.Timestamp = ts
	case int:
		out.Timestamp = int64(ts)
	case float64:
		out.Timestamp = int64(ts)
	case string:
		out.Timestamp, _ = strconv.ParseInt(ts, 10, 64)
	}
	return out
}

// WorkerHookAdapter forwards router dispatch events to a go-job worker hook.
type WorkerHookAdapter struct {
	hook worker.Hook
}

func NewWorkerHookAdapter(hook worker.Hook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event core.DispatchEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, toWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event core.DispatchEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, toWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event core.DispatchEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, toWorkerEvent(event))
}

func toWorkerEvent(event core.DispatchEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event),
		Attempt:   event.Attempt,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// DispatchHookAdapter lets a mailbox dispatch hook observe go-job workers.
type DispatchHookAdapter struct {
	hook core.DispatchHook
}

func NewDispatchHookAdapter(hook core.DispatchHook) *DispatchHookAdapter {
	return &DispatchHookAdapter{hook: hook}
}

func (a *DispatchHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, FromWorkerEvent(event))
}

func (a *DispatchHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, FromWorkerEvent(event))
}

func (a *DispatchHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, FromWorkerEvent(event))
}

// OnRetry is reported as a failure; dispatch hooks have no retry phase.
func (a *DispatchHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, FromWorkerEvent(event))
}

// PollEnqueuer schedules poll cycles on a go-job queue.
type PollEnqueuer struct {
	enqueuer queue.Enqueuer
	now      core.Clock
}

func NewPollEnqueuer(enqueuer queue.Enqueuer) *PollEnqueuer {
	return &PollEnqueuer{enqueuer: enqueuer, now: time.Now}
}

// EnqueuePoll enqueues one poll cycle. An empty key derives one from the
// current second so overlapping schedulers collapse onto one cycle.
func (p *PollEnqueuer) EnqueuePoll(ctx context.Context, idempotencyKey string) error {
	if p == nil || p.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = JobIDPoll + ":" + strconv.FormatInt(p.now().Unix(), 10)
	}
	return p.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDPoll,
		ScriptPath:     JobIDPoll,
		Parameters:     map[string]any{},
		IdempotencyKey: key,
	})
}

type Dispatcher interface {
	RunOnce(ctx context.Context) (core.DispatchStats, error)
}

// PollConsumer runs a poll cycle for each dequeued poll message.
type PollConsumer struct {
	dequeuer   queue.Dequeuer
	dispatcher Dispatcher
	policy     RetryPolicy
	retryDelay time.Duration
}

func NewPollConsumer(dequeuer queue.Dequeuer, dispatcher Dispatcher, policy RetryPolicy) *PollConsumer {
	return &PollConsumer{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		policy:     policy,
		retryDelay: time.Second,
	}
}

// ConsumeOne dequeues one delivery, runs a cycle and acks it. A failed cycle
// is nacked under the retry policy; attempt counts prior deliveries.
func (c *PollConsumer) ConsumeOne(ctx context.Context, attempt int) (core.DispatchStats, error) {
	if c == nil || c.dequeuer == nil || c.dispatcher == nil {
		return core.DispatchStats{}, fmt.Errorf("gojob: poll consumer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.DispatchStats{}, err
	}
	if msg := delivery.Message(); msg == nil || msg.JobID != JobIDPoll {
		nackErr := delivery.Nack(ctx, c.policy.NormalizeAttempt(queue.NackOptions{
			DeadLetter: true,
			Reason:     "unexpected job",
		}, attempt))
		if nackErr != nil {
			return core.DispatchStats{}, nackErr
		}
		return core.DispatchStats{}, fmt.Errorf("gojob: unexpected job for poll consumer")
	}

	stats, runErr := c.dispatcher.RunOnce(ctx)
	if runErr != nil {
		nackErr := delivery.Nack(ctx, c.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   c.retryDelay,
			Requeue: true,
			Reason:  runErr.Error(),
		}, attempt))
		if nackErr != nil {
			return stats, nackErr
		}
		return stats, runErr
	}
	return stats, delivery.Ack(ctx)
}

var (
	_ core.DispatchHook = (*WorkerHookAdapter)(nil)
	_ worker.Hook       = (*DispatchHookAdapter)(nil)
)
