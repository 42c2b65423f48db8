package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentwatch/internal/logger"
	"agentwatch/pkg/models"
)

type capturingPublisher struct {
	records []models.NotificationRecord
	err     error
}

func (p *capturingPublisher) Publish(ctx context.Context, record models.NotificationRecord) error {
	p.records = append(p.records, record)
	return p.err
}

func (p *capturingPublisher) Close() error { return nil }

func issueResult(nodeID string) models.VerificationResult {
	return models.VerificationResult{
		Event: models.DisconnectEvent{
			NodeID:     nodeID,
			ClusterID:  "arn:cluster/prod",
			DetectedAt: time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC),
		},
		Connected: false,
		CheckedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Decision:  models.DecisionIssue,
		Reason:    "agent still disconnected",
	}
}

func initTestLogger(t *testing.T) string {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "agentwatch.log")
	if err := logger.Init(true, "info", logPath, false); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return logPath
}

func TestNotifyEmitsMarkerLineAndPublishes(t *testing.T) {
	logPath := initTestLogger(t)
	pub := &capturingPublisher{}
	n := NewNotifier(pub)

	if err := n.Notify(context.Background(), issueResult("i-2")); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, IssueMarker) {
		t.Fatalf("log line missing marker token: %q", line)
	}
	if !strings.Contains(line, "node=i-2") {
		t.Fatalf("log line missing node id: %q", line)
	}
	if !strings.Contains(line, "cluster=prod") {
		t.Fatalf("log line missing cluster dimension: %q", line)
	}

	if len(pub.records) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(pub.records))
	}
	record := pub.records[0]
	if record.NodeID != "i-2" || record.ClusterID != "arn:cluster/prod" {
		t.Fatalf("unexpected record identity: %+v", record)
	}
	if !strings.Contains(record.Subject, IssueMarker) || !strings.Contains(record.Subject, "i-2") {
		t.Fatalf("unexpected subject: %q", record.Subject)
	}
	if !strings.Contains(record.Message, "agent disconnected") {
		t.Fatalf("unexpected message: %q", record.Message)
	}
}

func TestNotifyPublishFailureKeepsLogLine(t *testing.T) {
	logPath := initTestLogger(t)
	pub := &capturingPublisher{err: errors.New("topic unavailable")}
	n := NewNotifier(pub)

	err := n.Notify(context.Background(), issueResult("i-7"))
	if err == nil {
		t.Fatalf("expected publish failure to be reported")
	}

	// The marker line is the durable record and must survive the failure.
	data, readErr := os.ReadFile(logPath)
	if readErr != nil {
		t.Fatalf("read log: %v", readErr)
	}
	if !strings.Contains(string(data), IssueMarker) {
		t.Fatalf("marker line missing after publish failure: %q", string(data))
	}
}

func TestNotifyRejectsNonAlertingDecisions(t *testing.T) {
	initTestLogger(t)
	pub := &capturingPublisher{}
	n := NewNotifier(pub)

	result := issueResult("i-9")
	result.Decision = models.DecisionOK

	if err := n.Notify(context.Background(), result); err == nil {
		t.Fatalf("expected error for non-alerting decision")
	}
	if len(pub.records) != 0 {
		t.Fatalf("nothing must be published for non-alerting decisions")
	}
}

func TestFilePublisherAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "notifications.jsonl")
	pub, err := NewFilePublisher(path)
	if err != nil {
		t.Fatalf("create file publisher: %v", err)
	}
	defer pub.Close()

	record := RecordFor(issueResult("i-3"))
	if err := pub.Publish(context.Background(), record); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := pub.Publish(context.Background(), record); err != nil {
		t.Fatalf("second publish failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"node_id":"i-3"`) {
		t.Fatalf("unexpected record line: %q", lines[0])
	}
}
