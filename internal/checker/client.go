package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"agentwatch/internal/logger"
)

// computeInstanceID matches compute-registry instance ids. Anything else is
// treated as an externally managed node and resolved through the node-agent
// registry instead.
var computeInstanceID = regexp.MustCompile(`^i-(?:[a-f\d]{8}|[a-f\d]{17})$`)

// Status is the live state of a node at check time. Connected is nil when
// the control plane reports the instance without a connectivity flag.
type Status struct {
	NodeID    string
	Connected *bool
	Running   bool
}

// Config configures the control-plane client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// ControlPlaneClient issues read-only status queries against the
// orchestration control plane, the compute-instance registry, and the
// node-agent registry. It performs no retries; callers own backoff.
type ControlPlaneClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewControlPlaneClient creates a status client.
func NewControlPlaneClient(cfg Config) (*ControlPlaneClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("checker base URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ControlPlaneClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type containerInstanceResponse struct {
	InstanceID     string `json:"instanceId"`
	AgentConnected *bool  `json:"agentConnected"`
	Status         string `json:"status"`
}

type computeInstanceResponse struct {
	State string `json:"state"`
}

type managedInstanceResponse struct {
	PingStatus string `json:"pingStatus"`
}

type clusterTagsResponse struct {
	Tags map[string]string `json:"tags"`
}

// CheckStatus resolves the node through the control plane and reports its
// live connectivity and lifecycle state. Returns ErrNotFound when the node
// is no longer registered anywhere.
func (c *ControlPlaneClient) CheckStatus(ctx context.Context, clusterID, nodeID string) (Status, error) {
	if clusterID == "" || nodeID == "" {
		return Status{}, fmt.Errorf("cluster and node identifiers are required")
	}

	var ci containerInstanceResponse
	path := fmt.Sprintf("/clusters/%s/container-instances/%s",
		url.PathEscape(clusterID), url.PathEscape(nodeID))
	if err := c.getJSON(ctx, path, &ci); err != nil {
		return Status{}, err
	}
	if ci.InstanceID == "" {
		return Status{}, fmt.Errorf("control plane returned no instance id for %s", nodeID)
	}
	logger.Debugf("Checking node [%s]", ci.InstanceID)

	running, err := c.instanceRunning(ctx, ci.InstanceID)
	if err != nil {
		return Status{}, err
	}

	return Status{
		NodeID:    ci.InstanceID,
		Connected: ci.AgentConnected,
		Running:   running,
	}, nil
}

// ClusterTags returns the tags attached to a cluster, used for scope checks.
func (c *ControlPlaneClient) ClusterTags(ctx context.Context, clusterID string) (map[string]string, error) {
	if clusterID == "" {
		return nil, fmt.Errorf("cluster identifier is required")
	}
	var resp clusterTagsResponse
	path := fmt.Sprintf("/clusters/%s/tags", url.PathEscape(clusterID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

func (c *ControlPlaneClient) instanceRunning(ctx context.Context, instanceID string) (bool, error) {
	if computeInstanceID.MatchString(instanceID) {
		var resp computeInstanceResponse
		path := "/instances/" + url.PathEscape(instanceID)
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return false, err
		}
		return resp.State == "running", nil
	}

	var resp managedInstanceResponse
	path := "/managed-instances/" + url.PathEscape(instanceID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.PingStatus == "Online", nil
}

func (c *ControlPlaneClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}
	return nil
}
