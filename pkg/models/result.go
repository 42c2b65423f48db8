package models

import "time"

// Decision is the tri-state outcome of verifying a disconnect event.
type Decision string

const (
	// DecisionOK means the agent had reconnected by check time.
	DecisionOK Decision = "OK"
	// DecisionIssue means the agent is still disconnected on a live node.
	DecisionIssue Decision = "ISSUE"
	// DecisionIndeterminate means the node is gone or its state could not
	// be established; suppressed from alerting.
	DecisionIndeterminate Decision = "INDETERMINATE"
)

// Alerting reports whether the decision triggers a notification.
func (d Decision) Alerting() bool {
	return d == DecisionIssue
}

// VerificationResult records one verification of a disconnect event against
// live control-plane state. Transient: it survives only in logs and metrics.
type VerificationResult struct {
	Event     DisconnectEvent `json:"event"`
	Connected bool            `json:"connected"`
	CheckedAt time.Time       `json:"checked_at"`
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason,omitempty"`
}

// NotificationRecord is the fire-and-forget payload handed to the
// notification channel for an ISSUE decision.
type NotificationRecord struct {
	NodeID    string `json:"node_id"`
	ClusterID string `json:"cluster_id"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}
