package verify

import (
	"context"
	"fmt"
	"time"

	"agentwatch/internal/checker"
	"agentwatch/internal/logger"
	"agentwatch/internal/metrics"
	"agentwatch/pkg/models"
)

// StatusChecker is the read-only view of live node state the engine needs.
type StatusChecker interface {
	CheckStatus(ctx context.Context, clusterID, nodeID string) (checker.Status, error)
	ClusterTags(ctx context.Context, clusterID string) (map[string]string, error)
}

// Config controls scope filtering and retry behavior.
type Config struct {
	CheckAllClusters bool
	TagKey           string
	TagValue         string
	CheckAttempts    int
	CheckBackoff     time.Duration
}

// Engine re-verifies disconnect events against live control-plane state and
// produces a tri-state decision. It holds no per-event state: verifying the
// same event twice under unchanged live state yields the same decision.
type Engine struct {
	checker StatusChecker
	cfg     Config
	now     func() time.Time
}

// NewEngine creates a verification engine.
func NewEngine(ch StatusChecker, cfg Config) *Engine {
	if cfg.CheckAttempts <= 0 {
		cfg.CheckAttempts = 3
	}
	if cfg.CheckBackoff <= 0 {
		cfg.CheckBackoff = 500 * time.Millisecond
	}
	return &Engine{checker: ch, cfg: cfg, now: time.Now}
}

// Verify decides whether a disconnect event is a real issue. The grace
// period has already elapsed by the time an event is delivered, so the
// decision is computed strictly from current state. A returned error means
// the event could not be verified and should be redelivered.
func (e *Engine) Verify(ctx context.Context, event models.DisconnectEvent) (models.VerificationResult, error) {
	if event.NodeID == "" || event.ClusterID == "" {
		return models.VerificationResult{}, fmt.Errorf("event is missing node or cluster identifier")
	}

	monitored, err := e.clusterMonitored(ctx, event.ClusterID)
	if err != nil {
		return models.VerificationResult{}, err
	}
	if !monitored {
		logger.Infof("Cluster [%s] is not enabled for monitoring, skipping node [%s]",
			event.ClusterName(), event.NodeID)
		return e.resolve(event, false, models.DecisionOK, "cluster not monitored"), nil
	}

	var status checker.Status
	err = e.withRetry(ctx, func() error {
		start := time.Now()
		var checkErr error
		status, checkErr = e.checker.CheckStatus(ctx, event.ClusterID, event.NodeID)
		metrics.CheckDuration.Observe(time.Since(start).Seconds())
		return checkErr
	})
	if err != nil {
		if checker.IsNotFound(err) {
			logger.Infof("Node [%s] no longer exists, suppressing alert", event.NodeID)
			return e.resolve(event, false, models.DecisionIndeterminate, "node not found"), nil
		}
		return models.VerificationResult{}, fmt.Errorf("check status of node %s: %w", event.NodeID, err)
	}

	switch {
	case !status.Running:
		logger.Infof("Node [%s] is not running anymore, suppressing alert", status.NodeID)
		return e.resolveAs(event, status, models.DecisionIndeterminate, "node not running"), nil
	case status.Connected == nil:
		// Connectivity flag missing from the control-plane response;
		// never guess between OK and ISSUE.
		logger.Warnf("Node [%s] reported without a connectivity flag", status.NodeID)
		return e.resolveAs(event, status, models.DecisionIndeterminate, "connectivity flag missing"), nil
	case *status.Connected:
		logger.Infof("Agent for node [%s] has reconnected", status.NodeID)
		return e.resolveAs(event, status, models.DecisionOK, "agent reconnected"), nil
	default:
		logger.Infof("Agent for node [%s] remains disconnected", status.NodeID)
		return e.resolveAs(event, status, models.DecisionIssue, "agent still disconnected"), nil
	}
}

func (e *Engine) clusterMonitored(ctx context.Context, clusterID string) (bool, error) {
	if e.cfg.CheckAllClusters {
		return true, nil
	}
	if e.cfg.TagKey == "" || e.cfg.TagValue == "" {
		return false, nil
	}

	var tags map[string]string
	err := e.withRetry(ctx, func() error {
		var tagErr error
		tags, tagErr = e.checker.ClusterTags(ctx, clusterID)
		return tagErr
	})
	if err != nil {
		if checker.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("fetch tags of cluster %s: %w", clusterID, err)
	}
	return tags[e.cfg.TagKey] == e.cfg.TagValue, nil
}

// withRetry retries op on transient control-plane errors with exponential
// backoff, bounded by CheckAttempts. NotFound and permission errors pass
// through immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	backoff := e.cfg.CheckBackoff
	var err error
	for attempt := 1; attempt <= e.cfg.CheckAttempts; attempt++ {
		err = op()
		if err == nil || !checker.IsTransient(err) {
			return err
		}
		if attempt == e.cfg.CheckAttempts {
			break
		}
		metrics.CheckRetries.Inc()
		logger.Warnf("Status check failed (attempt=%d), retrying in %s: %v", attempt, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (e *Engine) resolve(event models.DisconnectEvent, connected bool, decision models.Decision, reason string) models.VerificationResult {
	metrics.Decisions.WithLabelValues(string(decision)).Inc()
	return models.VerificationResult{
		Event:     event,
		Connected: connected,
		CheckedAt: e.now().UTC(),
		Decision:  decision,
		Reason:    reason,
	}
}

func (e *Engine) resolveAs(event models.DisconnectEvent, status checker.Status, decision models.Decision, reason string) models.VerificationResult {
	connected := status.Connected != nil && *status.Connected
	return e.resolve(event, connected, decision, reason)
}
