package notify

import (
	"context"
	"fmt"
	"time"

	"agentwatch/internal/logger"
	"agentwatch/internal/metrics"
	"agentwatch/pkg/models"
)

// IssueMarker is the literal token embedded in every confirmed-issue log
// line. Downstream log-based metrics filter on this token and group counts
// by cluster and node, so the format must stay stable.
const IssueMarker = "[ISSUE]"

// Publisher delivers a notification to the outbound channel.
type Publisher interface {
	Publish(ctx context.Context, record models.NotificationRecord) error
	Close() error
}

// Notifier turns a confirmed-issue verification into a marker log line and
// a best-effort push notification. The log line is the durable record; the
// publish is advisory and its failure never rolls anything back.
type Notifier struct {
	publisher Publisher
}

// NewNotifier creates a notifier over the given publisher.
func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Notify emits the marker line and publishes the notification. Only called
// for ISSUE decisions; every call produces exactly one log line and one
// publish attempt, with no deduplication here.
func (n *Notifier) Notify(ctx context.Context, result models.VerificationResult) error {
	if !result.Decision.Alerting() {
		return fmt.Errorf("notify called with non-alerting decision %s", result.Decision)
	}

	record := RecordFor(result)

	// Durable first: this line feeds the log-based issue metric.
	logger.Warnf("%s cluster=%s node=%s checked_at=%s",
		IssueMarker,
		result.Event.ClusterName(),
		record.NodeID,
		result.CheckedAt.Format(time.RFC3339),
	)

	if err := n.publisher.Publish(ctx, record); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("publish notification for node %s: %w", record.NodeID, err)
	}
	metrics.Notifications.Inc()
	return nil
}

// RecordFor builds the outbound notification for an ISSUE result.
func RecordFor(result models.VerificationResult) models.NotificationRecord {
	return models.NotificationRecord{
		NodeID:    result.Event.NodeID,
		ClusterID: result.Event.ClusterID,
		Subject:   fmt.Sprintf("%s Container instance %s", IssueMarker, result.Event.NodeID),
		Message: fmt.Sprintf("%s Container instance %s from cluster %s has its agent disconnected.",
			IssueMarker, result.Event.NodeID, result.Event.ClusterID),
		Severity: "warning",
	}
}
