package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*ControlPlaneClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewControlPlaneClient(Config{
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, server
}

func TestCheckStatusComputeInstancePath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters/prod/container-instances/node-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"instanceId":"i-0123456789abcdef0","agentConnected":false,"status":"ACTIVE"}`))
	})
	mux.HandleFunc("/instances/i-0123456789abcdef0", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"running"}`))
	})

	client, _ := newTestClient(t, mux)

	status, err := client.CheckStatus(context.Background(), "prod", "node-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status.NodeID != "i-0123456789abcdef0" {
		t.Fatalf("unexpected node id: %s", status.NodeID)
	}
	if status.Connected == nil || *status.Connected {
		t.Fatalf("expected connected=false, got %v", status.Connected)
	}
	if !status.Running {
		t.Fatalf("expected running instance")
	}
}

func TestCheckStatusManagedInstancePath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters/edge/container-instances/node-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instanceId":"mi-0000aaaa","agentConnected":true,"status":"ACTIVE"}`))
	})
	mux.HandleFunc("/managed-instances/mi-0000aaaa", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pingStatus":"Online"}`))
	})

	client, _ := newTestClient(t, mux)

	status, err := client.CheckStatus(context.Background(), "edge", "node-2")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status.Connected == nil || !*status.Connected {
		t.Fatalf("expected connected=true")
	}
	if !status.Running {
		t.Fatalf("expected Online ping status to map to running")
	}
}

func TestCheckStatusOfflineManagedInstance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters/edge/container-instances/node-3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instanceId":"mi-0000bbbb","agentConnected":false,"status":"ACTIVE"}`))
	})
	mux.HandleFunc("/managed-instances/mi-0000bbbb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pingStatus":"ConnectionLost"}`))
	})

	client, _ := newTestClient(t, mux)

	status, err := client.CheckStatus(context.Background(), "edge", "node-3")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status.Running {
		t.Fatalf("expected non-Online ping status to map to not running")
	}
}

func TestCheckStatusMissingConnectivityFlag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters/prod/container-instances/node-4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instanceId":"i-0123456789abcdef1","status":"ACTIVE"}`))
	})
	mux.HandleFunc("/instances/i-0123456789abcdef1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"running"}`))
	})

	client, _ := newTestClient(t, mux)

	status, err := client.CheckStatus(context.Background(), "prod", "node-4")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status.Connected != nil {
		t.Fatalf("expected nil connectivity flag, got %v", *status.Connected)
	}
}

func TestCheckStatusNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.CheckStatus(context.Background(), "prod", "gone")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		permission bool
		transient  bool
	}{
		{"forbidden", http.StatusForbidden, true, false},
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"throttled", http.StatusTooManyRequests, false, true},
		{"server error", http.StatusInternalServerError, false, true},
		{"bad request", http.StatusBadRequest, false, false},
	}

	for _, tc := range cases {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.statusCode)
		}))

		_, err := client.CheckStatus(context.Background(), "prod", "node")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if IsPermission(err) != tc.permission {
			t.Fatalf("%s: permission classification mismatch for %v", tc.name, err)
		}
		if IsTransient(err) != tc.transient {
			t.Fatalf("%s: transient classification mismatch for %v", tc.name, err)
		}
	}
}

func TestClusterTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters/prod/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tags":{"monitored":"true","team":"infra"}}`))
	})

	client, _ := newTestClient(t, mux)

	tags, err := client.ClusterTags(context.Background(), "prod")
	if err != nil {
		t.Fatalf("fetch tags failed: %v", err)
	}
	if tags["monitored"] != "true" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestEmptyIdentifiersRejected(t *testing.T) {
	client, _ := newTestClient(t, http.NewServeMux())

	if _, err := client.CheckStatus(context.Background(), "", "node"); err == nil {
		t.Fatalf("expected error for empty cluster id")
	}
	if _, err := client.CheckStatus(context.Background(), "cluster", ""); err == nil {
		t.Fatalf("expected error for empty node id")
	}
}
