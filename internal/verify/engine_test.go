package verify

import (
	"context"
	"testing"
	"time"

	"agentwatch/internal/checker"
	"agentwatch/pkg/models"
)

func boolPtr(v bool) *bool { return &v }

type fakeChecker struct {
	status     checker.Status
	err        error
	transients int // transient failures before success
	calls      int

	tags   map[string]string
	tagErr error
}

func (f *fakeChecker) CheckStatus(ctx context.Context, clusterID, nodeID string) (checker.Status, error) {
	f.calls++
	if f.transients > 0 {
		f.transients--
		return checker.Status{}, &checker.APIError{StatusCode: 503, Message: "throttled"}
	}
	if f.err != nil {
		return checker.Status{}, f.err
	}
	return f.status, nil
}

func (f *fakeChecker) ClusterTags(ctx context.Context, clusterID string) (map[string]string, error) {
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	return f.tags, nil
}

func newTestEngine(ch StatusChecker) *Engine {
	return NewEngine(ch, Config{
		CheckAllClusters: true,
		CheckAttempts:    3,
		CheckBackoff:     time.Millisecond,
	})
}

func testEvent(nodeID string) models.DisconnectEvent {
	return models.DisconnectEvent{
		NodeID:     nodeID,
		ClusterID:  "arn:cluster/prod",
		DetectedAt: time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC),
	}
}

func TestVerifyReconnectedAgentResolvesOK(t *testing.T) {
	ch := &fakeChecker{status: checker.Status{NodeID: "i-1", Connected: boolPtr(true), Running: true}}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-1"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionOK {
		t.Fatalf("expected OK, got %s", result.Decision)
	}
	if !result.Connected {
		t.Fatalf("expected connected=true")
	}
	if result.CheckedAt.IsZero() {
		t.Fatalf("expected checked_at to be set")
	}
}

func TestVerifyStillDisconnectedResolvesIssue(t *testing.T) {
	ch := &fakeChecker{status: checker.Status{NodeID: "i-2", Connected: boolPtr(false), Running: true}}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-2"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionIssue {
		t.Fatalf("expected ISSUE, got %s", result.Decision)
	}
	if result.Connected {
		t.Fatalf("expected connected=false")
	}
}

func TestVerifyMissingNodeResolvesIndeterminate(t *testing.T) {
	ch := &fakeChecker{err: checker.ErrNotFound}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-3"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionIndeterminate {
		t.Fatalf("expected INDETERMINATE, got %s", result.Decision)
	}
}

func TestVerifyStoppedNodeResolvesIndeterminate(t *testing.T) {
	ch := &fakeChecker{status: checker.Status{NodeID: "i-4", Connected: boolPtr(false), Running: false}}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-4"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionIndeterminate {
		t.Fatalf("expected INDETERMINATE for non-running node, got %s", result.Decision)
	}
}

func TestVerifyMissingConnectivityFlagResolvesIndeterminate(t *testing.T) {
	ch := &fakeChecker{status: checker.Status{NodeID: "i-5", Connected: nil, Running: true}}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-5"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionIndeterminate {
		t.Fatalf("expected INDETERMINATE for ambiguous flag, got %s", result.Decision)
	}
}

func TestVerifyIsIdempotentUnderUnchangedState(t *testing.T) {
	ch := &fakeChecker{status: checker.Status{NodeID: "i-6", Connected: boolPtr(false), Running: true}}
	engine := newTestEngine(ch)

	first, err := engine.Verify(context.Background(), testEvent("i-6"))
	if err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	second, err := engine.Verify(context.Background(), testEvent("i-6"))
	if err != nil {
		t.Fatalf("second verify failed: %v", err)
	}
	if first.Decision != second.Decision {
		t.Fatalf("decisions differ across identical verifications: %s vs %s", first.Decision, second.Decision)
	}
}

func TestVerifyRetriesTransientErrorsThenSucceeds(t *testing.T) {
	ch := &fakeChecker{
		status:     checker.Status{NodeID: "i-7", Connected: boolPtr(true), Running: true},
		transients: 2,
	}
	engine := newTestEngine(ch)

	result, err := engine.Verify(context.Background(), testEvent("i-7"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionOK {
		t.Fatalf("expected OK after retries, got %s", result.Decision)
	}
	if ch.calls != 3 {
		t.Fatalf("expected 3 check calls, got %d", ch.calls)
	}
}

func TestVerifyExhaustedRetriesReturnsError(t *testing.T) {
	ch := &fakeChecker{transients: 10}
	engine := newTestEngine(ch)

	_, err := engine.Verify(context.Background(), testEvent("i-8"))
	if err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	if !checker.IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
	if ch.calls != 3 {
		t.Fatalf("expected retries bounded to 3 calls, got %d", ch.calls)
	}
}

func TestVerifyPermissionErrorIsNotRetried(t *testing.T) {
	ch := &fakeChecker{err: &checker.APIError{StatusCode: 403, Message: "access denied"}}
	engine := newTestEngine(ch)

	_, err := engine.Verify(context.Background(), testEvent("i-9"))
	if err == nil {
		t.Fatalf("expected permission error")
	}
	if !checker.IsPermission(err) {
		t.Fatalf("expected permission classification, got %v", err)
	}
	if ch.calls != 1 {
		t.Fatalf("expected a single call for a permission error, got %d", ch.calls)
	}
}

func TestVerifyUnmonitoredClusterResolvesOKWithoutCheck(t *testing.T) {
	ch := &fakeChecker{
		status: checker.Status{NodeID: "i-10", Connected: boolPtr(false), Running: true},
		tags:   map[string]string{"team": "platform"},
	}
	engine := NewEngine(ch, Config{
		TagKey:        "monitored",
		TagValue:      "true",
		CheckAttempts: 1,
		CheckBackoff:  time.Millisecond,
	})

	result, err := engine.Verify(context.Background(), testEvent("i-10"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionOK {
		t.Fatalf("expected non-alerting OK for unmonitored cluster, got %s", result.Decision)
	}
	if ch.calls != 0 {
		t.Fatalf("status must not be checked for unmonitored clusters, got %d calls", ch.calls)
	}
}

func TestVerifyMonitoredTagEnablesCheck(t *testing.T) {
	ch := &fakeChecker{
		status: checker.Status{NodeID: "i-11", Connected: boolPtr(false), Running: true},
		tags:   map[string]string{"monitored": "true"},
	}
	engine := NewEngine(ch, Config{
		TagKey:        "monitored",
		TagValue:      "true",
		CheckAttempts: 1,
		CheckBackoff:  time.Millisecond,
	})

	result, err := engine.Verify(context.Background(), testEvent("i-11"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Decision != models.DecisionIssue {
		t.Fatalf("expected ISSUE for tagged cluster, got %s", result.Decision)
	}
}

func TestVerifyRejectsEmptyIdentifiers(t *testing.T) {
	engine := newTestEngine(&fakeChecker{})

	if _, err := engine.Verify(context.Background(), models.DisconnectEvent{ClusterID: "c"}); err == nil {
		t.Fatalf("expected error for missing node id")
	}
	if _, err := engine.Verify(context.Background(), models.DisconnectEvent{NodeID: "n"}); err == nil {
		t.Fatalf("expected error for missing cluster id")
	}
}
