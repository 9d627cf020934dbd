package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/remote"
)

func newTestClient(t *testing.T, batchSize int, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	caller := remote.NewCaller("embedding", 0, remote.Policy{MaxAttempts: 1}, zerolog.Nop())
	return NewClient(server.URL, batchSize, caller), server
}

func TestEmbedBatchContract(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody struct {
		Texts []string `json:"texts"`
	}
	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		})
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"один", "два"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if gotPath != "/embed" {
		t.Fatalf("request path = %q, want /embed", gotPath)
	}
	if diff := cmp.Diff([]string{"один", "два"}, gotBody.Texts); diff != "" {
		t.Fatalf("request texts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float64{{0.1, 0.2}, {0.3, 0.4}}, vectors); diff != "" {
		t.Fatalf("vectors mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedBatchChunksRequests(t *testing.T) {
	t.Parallel()

	var batches [][]string
	client, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		batches = append(batches, body.Texts)

		vectors := make([][]float64, len(body.Texts))
		for i := range vectors {
			vectors[i] = []float64{1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("unexpected batching: %v", batches)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{0.1}},
		})
	})

	if _, err := client.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEmbedBatchBackendError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model not loaded"})
	})

	if _, err := client.EmbedBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected backend error")
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called for empty input")
	})

	vectors, err := client.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if vectors != nil {
		t.Fatalf("got %v, want nil", vectors)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("request path = %q, want /health", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestHealthUnhealthyStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
	})

	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw        string
		wantEmbed  string
		wantHealth string
	}{
		{"http://127.0.0.1:8844", "http://127.0.0.1:8844/embed", "http://127.0.0.1:8844/health"},
		{"http://127.0.0.1:8844/", "http://127.0.0.1:8844/embed", "http://127.0.0.1:8844/health"},
		{"http://127.0.0.1:8844/embed", "http://127.0.0.1:8844/embed", "http://127.0.0.1:8844/health"},
		{"", DefaultEndpoint + "/embed", DefaultEndpoint + "/health"},
	}
	for _, tc := range cases {
		embedURL, healthURL := normalizeEndpoint(tc.raw)
		if embedURL != tc.wantEmbed || healthURL != tc.wantHealth {
			t.Fatalf("normalizeEndpoint(%q) = (%q, %q), want (%q, %q)",
				tc.raw, embedURL, healthURL, tc.wantEmbed, tc.wantHealth)
		}
	}
}
