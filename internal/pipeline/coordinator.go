package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agentwatch/internal/checker"
	"agentwatch/internal/logger"
	"agentwatch/internal/metrics"
	"agentwatch/internal/queue"
	"agentwatch/pkg/models"
)

// Verifier re-checks a disconnect event against live state.
type Verifier interface {
	Verify(ctx context.Context, event models.DisconnectEvent) (models.VerificationResult, error)
}

// IssueNotifier delivers confirmed issues.
type IssueNotifier interface {
	Notify(ctx context.Context, result models.VerificationResult) error
}

// IssueHook runs operator-defined follow-up actions on confirmed issues.
type IssueHook func(ctx context.Context, result models.VerificationResult)

// Config controls batch processing.
type Config struct {
	Workers           int
	BatchSize         int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
}

// ItemOutcome is the per-item result of one batch pass. A nil Err means the
// message can be acknowledged; otherwise it is failed back to the queue for
// redelivery within its bounded attempt budget.
type ItemOutcome struct {
	MessageID string
	NodeID    string
	Decision  models.Decision
	Duplicate bool
	Err       error
	Retryable bool
}

// Coordinator pulls batches of pending disconnect events, dispatches each to
// the verification engine, notifies on confirmed issues, and acknowledges or
// fails each message individually so the transport redelivers only broken
// items.
type Coordinator struct {
	queue    queue.DelayQueue
	verifier Verifier
	notifier IssueNotifier
	hook     IssueHook
	cfg      Config
}

// NewCoordinator creates a coordinator.
func NewCoordinator(q queue.DelayQueue, v Verifier, n IssueNotifier, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		// Single worker keeps the outbound call rate bounded; bursts
		// queue upstream instead.
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = time.Minute
	}
	return &Coordinator{queue: q, verifier: v, notifier: n, cfg: cfg}
}

// SetIssueHook installs a follow-up action for confirmed issues.
func (c *Coordinator) SetIssueHook(hook IssueHook) {
	c.hook = hook
}

// Run polls the delay queue until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	logger.Infof("Batch coordinator started (workers=%d batch_size=%d)", c.cfg.Workers, c.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.queue.Pull(ctx, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to pull batch: %v", err)
			c.idle(ctx)
			continue
		}
		if len(msgs) == 0 {
			c.idle(ctx)
			continue
		}

		bctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessingTimeout)
		outcomes := c.ProcessBatch(bctx, msgs)
		cancel()

		c.settle(ctx, outcomes)

		failed := 0
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				failed++
			}
		}
		logger.Debugf("Batch settled (items=%d failed=%d)", len(outcomes), failed)
	}
}

// ProcessBatch verifies every event in the batch. One item's failure never
// aborts the rest; duplicate node ids after the first in a batch are
// suppressed without verification.
func (c *Coordinator) ProcessBatch(ctx context.Context, msgs []queue.Message) []ItemOutcome {
	outcomes := make([]ItemOutcome, len(msgs))

	type workItem struct {
		idx   int
		event models.DisconnectEvent
	}
	work := make([]workItem, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))

	for idx, msg := range msgs {
		outcomes[idx].MessageID = msg.ID

		var event models.DisconnectEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			// Undecodable payloads walk into the dead-letter sink via the
			// bounded attempt count.
			outcomes[idx].Err = fmt.Errorf("decode disconnect event: %w", err)
			outcomes[idx].Retryable = true
			continue
		}
		outcomes[idx].NodeID = event.NodeID

		if event.NodeID != "" {
			if _, dup := seen[event.NodeID]; dup {
				logger.Infof("Avoiding duplicated alerts, node [%s] already processed in this batch", event.NodeID)
				outcomes[idx].Duplicate = true
				continue
			}
			seen[event.NodeID] = struct{}{}
		}

		work = append(work, workItem{idx: idx, event: event})
	}

	workers := c.cfg.Workers
	if workers > len(work) {
		workers = len(work)
	}

	if workers <= 1 {
		for _, item := range work {
			outcomes[item.idx] = c.processItem(ctx, outcomes[item.idx], item.event)
		}
	} else {
		// Items touch no shared state besides their own outcome slot, so
		// no locking is needed across the fan-out.
		workCh := make(chan workItem)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range workCh {
					outcomes[item.idx] = c.processItem(ctx, outcomes[item.idx], item.event)
				}
			}()
		}
		for _, item := range work {
			workCh <- item
		}
		close(workCh)
		wg.Wait()
	}

	return outcomes
}

func (c *Coordinator) processItem(ctx context.Context, outcome ItemOutcome, event models.DisconnectEvent) ItemOutcome {
	result, err := c.verifier.Verify(ctx, event)
	if err != nil {
		outcome.Err = err
		outcome.Retryable = !checker.IsPermission(err)
		if outcome.Retryable {
			logger.Warnf("Verification of node [%s] failed, will retry: %v", event.NodeID, err)
		} else {
			logger.Errorf("Verification of node [%s] failed permanently: %v", event.NodeID, err)
		}
		return outcome
	}

	outcome.Decision = result.Decision

	if result.Decision.Alerting() {
		if err := c.notifier.Notify(ctx, result); err != nil {
			// The marker log line is already written; the push channel is
			// advisory and must not fail the item.
			logger.Warnf("Notification for node [%s] failed: %v", event.NodeID, err)
		}
		if c.hook != nil {
			c.hook(ctx, result)
		}
	}

	return outcome
}

// settle acknowledges successful items and fails broken ones so the
// transport redelivers them individually.
func (c *Coordinator) settle(ctx context.Context, outcomes []ItemOutcome) {
	for _, outcome := range outcomes {
		switch {
		case outcome.Err == nil && outcome.Duplicate:
			metrics.BatchItems.WithLabelValues("duplicate").Inc()
			c.ack(ctx, outcome.MessageID)
		case outcome.Err == nil:
			metrics.BatchItems.WithLabelValues("success").Inc()
			c.ack(ctx, outcome.MessageID)
		case outcome.Retryable:
			metrics.BatchItems.WithLabelValues("failed_retryable").Inc()
			c.fail(ctx, outcome.MessageID)
		default:
			metrics.BatchItems.WithLabelValues("failed_terminal").Inc()
			c.fail(ctx, outcome.MessageID)
		}
	}
}

func (c *Coordinator) ack(ctx context.Context, id string) {
	if err := c.queue.Ack(ctx, id); err != nil {
		logger.Errorf("Failed to ack message %s: %v", id, err)
	}
}

func (c *Coordinator) fail(ctx context.Context, id string) {
	if err := c.queue.Fail(ctx, id); err != nil {
		logger.Errorf("Failed to fail message %s: %v", id, err)
	}
}

func (c *Coordinator) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.PollInterval):
	}
}
