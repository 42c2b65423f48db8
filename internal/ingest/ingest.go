package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentwatch/internal/logger"
	"agentwatch/internal/metrics"
	"agentwatch/internal/queue"
	"agentwatch/internal/rules"
	"agentwatch/pkg/models"
)

// Source yields raw state-change payloads; the Redis list Consumer is the
// production implementation.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
}

// Ingestor screens raw state changes and enqueues qualifying disconnect
// events into the delay queue with the configured grace period. Events the
// hard predicate rejects (reconnected agents, non-active instances) are
// normal traffic, not errors.
type Ingestor struct {
	source Source
	queue  queue.DelayQueue
	rules  rules.Engine
	grace  time.Duration
}

// NewIngestor creates an ingestor. A nil rule engine admits every event.
func NewIngestor(source Source, q queue.DelayQueue, engine rules.Engine, grace time.Duration) *Ingestor {
	if engine == nil {
		engine = rules.AllowAll{}
	}
	return &Ingestor{source: source, queue: q, rules: engine, grace: grace}
}

// Run consumes raw payloads until the context is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	logger.Infof("Ingest loop started (grace=%s)", i.grace)
	for {
		payload, err := i.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to pop state change: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		if err := i.Process(ctx, payload); err != nil {
			logger.Warnf("Failed to process state change: %v", err)
		}
	}
}

// Process screens one raw payload and enqueues it when it qualifies.
func (i *Ingestor) Process(ctx context.Context, payload []byte) error {
	sc, err := models.ParseStateChange(payload)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("invalid").Inc()
		return err
	}

	if !sc.IsDisconnect() {
		metrics.IngestEvents.WithLabelValues("filtered").Inc()
		logger.Debugf("State change does not qualify (reconnected or not active)")
		return nil
	}

	if !i.rules.Match(scopeFields(sc)) {
		metrics.IngestEvents.WithLabelValues("out_of_scope").Inc()
		logger.Debugf("State change rejected by scope rules")
		return nil
	}

	event, err := models.DisconnectEventFromStateChange(sc)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("invalid").Inc()
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode disconnect event: %w", err)
	}

	id, err := i.queue.Enqueue(ctx, body, i.grace)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("error").Inc()
		return fmt.Errorf("enqueue disconnect event: %w", err)
	}

	metrics.IngestEvents.WithLabelValues("accepted").Inc()
	logger.Infof("Disconnect on node [%s] queued for verification (message=%s)", event.NodeID, id)
	return nil
}

// scopeFields flattens the event for rule matching: top-level source and
// detail-type plus every detail field.
func scopeFields(sc *models.StateChange) map[string]interface{} {
	fields := make(map[string]interface{}, len(sc.Detail.Attributes)+2)
	for k, v := range sc.Detail.Attributes {
		fields[k] = v
	}
	fields["source"] = sc.Source
	fields["detail-type"] = sc.DetailType
	return fields
}
