package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StateChangeCategory is the only event category the monitor consumes.
const StateChangeCategory = "Container Instance State Change"

// StateChange is a raw node state-change notification as emitted by the
// orchestration event source.
type StateChange struct {
	Source     string            `json:"source"`
	DetailType string            `json:"detail-type"`
	Time       time.Time         `json:"time"`
	Detail     StateChangeDetail `json:"detail"`
}

// StateChangeDetail carries the node-level fields of a state change.
// Unknown detail fields are preserved in Attributes for scope-rule matching.
type StateChangeDetail struct {
	ContainerInstanceArn string `json:"containerInstanceArn"`
	ClusterArn           string `json:"clusterArn"`
	AgentID              string `json:"agentId,omitempty"`
	AgentConnected       *bool  `json:"agentConnected"`
	Status               string `json:"status"`

	Attributes map[string]interface{} `json:"-"`
}

// ParseStateChange decodes a raw state-change payload.
func ParseStateChange(payload []byte) (*StateChange, error) {
	var sc StateChange
	if err := json.Unmarshal(payload, &sc); err != nil {
		return nil, fmt.Errorf("decode state change: %w", err)
	}

	// Keep the full detail map around so scope rules can match on fields
	// the typed struct does not carry.
	var raw struct {
		Detail map[string]interface{} `json:"detail"`
	}
	if err := json.Unmarshal(payload, &raw); err == nil {
		sc.Detail.Attributes = raw.Detail
	}

	return &sc, nil
}

// IsDisconnect reports whether the state change announces an agent
// disconnect on an active instance. Reconnects and instances that are
// draining or deregistered do not qualify.
func (sc *StateChange) IsDisconnect() bool {
	if sc == nil {
		return false
	}
	if sc.DetailType != StateChangeCategory {
		return false
	}
	if sc.Detail.AgentConnected == nil || *sc.Detail.AgentConnected {
		return false
	}
	return strings.EqualFold(sc.Detail.Status, "ACTIVE")
}

// DisconnectEvent is the immutable record handed to the delay queue when a
// disconnect is detected. NodeID is the container-instance reference within
// ClusterID; both are resolved against the control plane at check time.
type DisconnectEvent struct {
	NodeID     string                 `json:"node_id"`
	ClusterID  string                 `json:"cluster_id"`
	AgentID    string                 `json:"agent_id,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// DisconnectEventFromStateChange builds the queue record for a qualifying
// state change.
func DisconnectEventFromStateChange(sc *StateChange) (DisconnectEvent, error) {
	if sc.Detail.ContainerInstanceArn == "" {
		return DisconnectEvent{}, fmt.Errorf("state change has no container instance reference")
	}
	if sc.Detail.ClusterArn == "" {
		return DisconnectEvent{}, fmt.Errorf("state change has no cluster reference")
	}

	detected := sc.Time
	if detected.IsZero() {
		detected = time.Now().UTC()
	}

	return DisconnectEvent{
		NodeID:     sc.Detail.ContainerInstanceArn,
		ClusterID:  sc.Detail.ClusterArn,
		AgentID:    sc.Detail.AgentID,
		DetectedAt: detected,
		Attributes: sc.Detail.Attributes,
	}, nil
}

// ClusterName returns the short cluster name from an ARN-style cluster
// reference, or the reference unchanged when it carries no path.
func (e DisconnectEvent) ClusterName() string {
	if idx := strings.LastIndex(e.ClusterID, "/"); idx >= 0 {
		return e.ClusterID[idx+1:]
	}
	return e.ClusterID
}
