package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/ledgersync/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

func TestListSubmissions_Success(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, "payer1", r.URL.Query().Get("payer"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"submissions": []map[string]interface{}{
				{
					"signature":  testSignature,
					"payer":      "payer1",
					"status":     "failed",
					"error":      "custom program error: 0x1",
					"slot":       42,
					"created_at": now,
				},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	subs, err := client.ListSubmissions(context.Background(), ListOptions{Payer: "payer1", Status: "failed", Limit: 5})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	assert.Equal(t, testSignature, subs[0].Signature)
	assert.Equal(t, int64(42), subs[0].Slot)
	require.NotNil(t, subs[0].Error)
	assert.Equal(t, "custom program error: 0x1", *subs[0].Error)
	assert.True(t, now.Equal(subs[0].CreatedAt))
}

func TestGetSubmission_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/submissions/"+testSignature, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "submission not found",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sub, err := client.GetSubmission(context.Background(), testSignature)
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "submission not found")
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stats", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"by_status": map[string]int64{"confirmed": 2, "expired": 1},
			"total":     3,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["expired"])
}

func TestStartWorkflow_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/workflows", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "memo-1", body["workflow_id"])
		assert.Len(t, body["instructions"], 1)
		assert.Equal(t, "confirmed", body["commitment"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"workflow_id": "memo-1", "run_id": "run-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	started, err := client.StartWorkflow(context.Background(), "memo-1", temporal.SubmitAndAwaitInput{
		Instructions: []temporal.InstructionSpec{{ProgramID: "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", Data: []byte("hi")}},
		Commitment:   "confirmed",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", started.RunID)
}

func TestStartWorkflow_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "instructions are required",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StartWorkflow(context.Background(), "", temporal.SubmitAndAwaitInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions are required")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestGetWorkflow_Completed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workflows/memo-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id": "memo-1",
			"run_id":      "run-1",
			"status":      "Completed",
			"result": map[string]interface{}{
				"signature": testSignature,
				"status":    "confirmed",
				"slot":      99,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.GetWorkflow(context.Background(), "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "Completed", status.Status)
	require.NotNil(t, status.Result)
	assert.Equal(t, testSignature, status.Result.Signature)
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Stats(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
