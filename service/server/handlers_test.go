package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testPayer     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	memoProgram   = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
)

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) GetSubmission(ctx context.Context, signature string) (*db.Submission, error) {
	args := m.Called(ctx, signature)
	sub, _ := args.Get(0).(*db.Submission)
	return sub, args.Error(1)
}

func (m *MockJournal) ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error) {
	args := m.Called(ctx, params)
	subs, _ := args.Get(0).([]*db.Submission)
	return subs, args.Error(1)
}

func (m *MockJournal) CountSubmissionsByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}

type MockWorkflows struct {
	mock.Mock
}

func (m *MockWorkflows) StartSubmitAndAwait(ctx context.Context, workflowID string, input temporal.SubmitAndAwaitInput) (string, error) {
	args := m.Called(ctx, workflowID, input)
	return args.String(0), args.Error(1)
}

func (m *MockWorkflows) DescribeSubmitAndAwait(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error) {
	args := m.Called(ctx, workflowID)
	status, _ := args.Get(0).(*temporal.WorkflowStatus)
	return status, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSubmission() *db.Submission {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &db.Submission{
		Signature:            testSignature,
		Payer:                testPayer,
		SignerKind:           "local",
		Status:               "confirmed",
		Slot:                 1234,
		Commitment:           "confirmed",
		LastValidBlockHeight: 5678,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func serve(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListSubmissions(t *testing.T) {
	journal := &MockJournal{}
	journal.On("ListSubmissions", mock.Anything, db.ListSubmissionsParams{
		Payer:  testPayer,
		Status: "confirmed",
		Limit:  10,
		Offset: 20,
	}).Return([]*db.Submission{testSubmission()}, nil)

	s := New(":0", journal, nil, nil, nil, testLogger())
	rec := serve(t, s, "GET", "/api/v1/submissions?payer="+testPayer+"&status=confirmed&limit=10&offset=20", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	subs := body["submissions"].([]any)
	first := subs[0].(map[string]any)
	assert.Equal(t, testSignature, first["signature"])
	assert.EqualValues(t, 5678, first["last_valid_block_height"])
	journal.AssertExpectations(t)
}

func TestListSubmissions_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"bad status", "status=lost", "invalid status"},
		{"limit not integer", "limit=abc", "invalid limit"},
		{"limit too small", "limit=0", "limit must be at least 1"},
		{"limit too large", "limit=5000", "limit cannot exceed 1000"},
		{"negative offset", "offset=-1", "offset cannot be negative"},
		{"payer with invalid characters", "payer=0OIl", "invalid address format"},
		{"payer too long", "payer=" + strings.Repeat("A", 500), "address too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := &MockJournal{}
			s := New(":0", journal, nil, nil, nil, testLogger())
			rec := serve(t, s, "GET", "/api/v1/submissions?"+tt.query, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			journal.AssertNotCalled(t, "ListSubmissions", mock.Anything, mock.Anything)
		})
	}
}

func TestGetSubmission(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		journal := &MockJournal{}
		journal.On("GetSubmission", mock.Anything, testSignature).Return(testSubmission(), nil)

		s := New(":0", journal, nil, nil, nil, testLogger())
		rec := serve(t, s, "GET", "/api/v1/submissions/"+testSignature, "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "local", decodeBody(t, rec)["signer_kind"])
	})

	t.Run("not found", func(t *testing.T) {
		journal := &MockJournal{}
		journal.On("GetSubmission", mock.Anything, testSignature).Return(nil, db.ErrNotFound)

		s := New(":0", journal, nil, nil, nil, testLogger())
		rec := serve(t, s, "GET", "/api/v1/submissions/"+testSignature, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		journal := &MockJournal{}
		journal.On("GetSubmission", mock.Anything, testSignature).Return(nil, errors.New("connection reset"))

		s := New(":0", journal, nil, nil, nil, testLogger())
		rec := serve(t, s, "GET", "/api/v1/submissions/"+testSignature, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})

	t.Run("invalid signature", func(t *testing.T) {
		journal := &MockJournal{}
		s := New(":0", journal, nil, nil, nil, testLogger())
		rec := serve(t, s, "GET", "/api/v1/submissions/not-base58!", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmissionStats(t *testing.T) {
	journal := &MockJournal{}
	journal.On("CountSubmissionsByStatus", mock.Anything).
		Return(map[string]int64{"confirmed": 3, "failed": 1}, nil)

	s := New(":0", journal, nil, nil, nil, testLogger())
	rec := serve(t, s, "GET", "/api/v1/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 4, body["total"])
}

func TestStartWorkflow(t *testing.T) {
	workflows := &MockWorkflows{}
	workflows.On("StartSubmitAndAwait", mock.Anything, "memo-1", mock.MatchedBy(func(in temporal.SubmitAndAwaitInput) bool {
		return len(in.Instructions) == 1 &&
			in.Instructions[0].ProgramID == memoProgram &&
			string(in.Instructions[0].Data) == "hello" &&
			in.Await != nil && in.Await.Address == testPayer
	})).Return("run-1", nil)

	s := New(":0", nil, workflows, nil, nil, testLogger())
	body := `{
		"workflow_id": "memo-1",
		"instructions": [{"program_id": "` + memoProgram + `", "data": "aGVsbG8="}],
		"await": {"address": "` + testPayer + `", "jq": [".lamports > 0"]}
	}`
	rec := serve(t, s, "POST", "/api/v1/workflows", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "memo-1", resp["workflow_id"])
	assert.Equal(t, "run-1", resp["run_id"])
	workflows.AssertExpectations(t)
}

func TestStartWorkflow_GeneratesID(t *testing.T) {
	workflows := &MockWorkflows{}
	workflows.On("StartSubmitAndAwait", mock.Anything, mock.MatchedBy(func(id string) bool {
		return strings.HasPrefix(id, "submit-")
	}), mock.Anything).Return("run-2", nil)

	s := New(":0", nil, workflows, nil, nil, testLogger())
	rec := serve(t, s, "POST", "/api/v1/workflows", `{"instructions": [{"program_id": "`+memoProgram+`"}]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStartWorkflow_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "malformed JSON",
			body: `{"instructions":`,
			want: "invalid request body",
		},
		{
			name: "extremely large request body",
			body: `{"workflow_id":"` + strings.Repeat("a", 2<<20) + `"}`,
			want: "request body too large",
		},
		{
			name: "no instructions",
			body: `{}`,
			want: "instructions are required",
		},
		{
			name: "bad program id",
			body: `{"instructions": [{"program_id": "nope"}]}`,
			want: "invalid instructions",
		},
		{
			name: "bad workflow id",
			body: `{"workflow_id": "a b", "instructions": [{"program_id": "` + memoProgram + `"}]}`,
			want: "invalid workflow_id",
		},
		{
			name: "bad await address",
			body: `{"instructions": [{"program_id": "` + memoProgram + `"}], "await": {"address": ""}}`,
			want: "invalid await address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflows := &MockWorkflows{}
			s := New(":0", nil, workflows, nil, nil, testLogger())
			rec := serve(t, s, "POST", "/api/v1/workflows", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			workflows.AssertNotCalled(t, "StartSubmitAndAwait", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestStartWorkflow_StartFails(t *testing.T) {
	workflows := &MockWorkflows{}
	workflows.On("StartSubmitAndAwait", mock.Anything, "dup", mock.Anything).
		Return("", errors.New("workflow execution already started"))

	s := New(":0", nil, workflows, nil, nil, testLogger())
	rec := serve(t, s, "POST", "/api/v1/workflows", `{"workflow_id": "dup", "instructions": [{"program_id": "`+memoProgram+`"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetWorkflow(t *testing.T) {
	workflows := &MockWorkflows{}
	workflows.On("DescribeSubmitAndAwait", mock.Anything, "memo-1").Return(&temporal.WorkflowStatus{
		WorkflowID: "memo-1",
		RunID:      "run-1",
		Status:     "Completed",
		Result:     &temporal.SubmitAndAwaitResult{Signature: testSignature, Status: "confirmed"},
	}, nil)
	workflows.On("DescribeSubmitAndAwait", mock.Anything, "missing").Return(nil, errors.New("not found"))

	s := New(":0", nil, workflows, nil, nil, testLogger())

	rec := serve(t, s, "GET", "/api/v1/workflows/memo-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Completed", body["status"])
	assert.Equal(t, testSignature, body["result"].(map[string]any)["signature"])

	rec = serve(t, s, "GET", "/api/v1/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesDisabledWithoutDependencies(t *testing.T) {
	s := New(":0", nil, nil, nil, nil, testLogger())

	assert.Equal(t, http.StatusNotFound, serve(t, s, "GET", "/api/v1/submissions", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, "GET", "/metrics", "").Code)

	rec := serve(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	s := New(":0", nil, nil, nil, nil, testLogger())
	rec := serve(t, s, "OPTIONS", "/api/v1/workflows", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamSubject(t *testing.T) {
	subject, event, err := streamSubject("submissions", "")
	require.NoError(t, err)
	assert.Equal(t, "submissions.*", subject)
	assert.Equal(t, "submission", event)

	subject, event, err = streamSubject("awaits", testPayer)
	require.NoError(t, err)
	assert.Equal(t, "awaits."+testPayer, subject)
	assert.Equal(t, "await", event)

	_, _, err = streamSubject("transactions", "")
	assert.ErrorContains(t, err, "unknown stream")

	_, _, err = streamSubject("awaits", "bad>subject")
	assert.Error(t, err)
}
