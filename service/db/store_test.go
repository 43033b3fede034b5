package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubmission(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	workflowID := "submit-123"

	params := CreateSubmissionParams{
		Signature:            "sig-create",
		Payer:                "payer1",
		SignerKind:           "local",
		Status:               "pending",
		Commitment:           "confirmed",
		LastValidBlockHeight: 1234,
		WorkflowID:           &workflowID,
	}

	t.Run("create", func(t *testing.T) {
		sub, err := store.CreateSubmission(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "sig-create", sub.Signature)
		assert.Equal(t, "payer1", sub.Payer)
		assert.Equal(t, "pending", sub.Status)
		assert.Equal(t, int64(1234), sub.LastValidBlockHeight)
		require.NotNil(t, sub.WorkflowID)
		assert.Equal(t, workflowID, *sub.WorkflowID)
		assert.Nil(t, sub.Error)
		assert.WithinDuration(t, time.Now(), sub.CreatedAt, 5*time.Second)
	})

	t.Run("duplicate signature keeps the first row", func(t *testing.T) {
		dup := params
		dup.Status = "confirmed"
		sub, err := store.CreateSubmission(ctx, dup)
		require.NoError(t, err)
		assert.Equal(t, "pending", sub.Status)
	})
}

func TestUpdateSubmissionStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateSubmission(ctx, CreateSubmissionParams{
		Signature:  "sig-update",
		Payer:      "payer1",
		SignerKind: "local",
		Status:     "pending",
		Commitment: "processed",
	})
	require.NoError(t, err)

	failure := `{"InstructionError":[0,{"Custom":1}]}`
	sub, err := store.UpdateSubmissionStatus(ctx, UpdateSubmissionStatusParams{
		Signature:            "sig-update",
		Status:               "failed",
		Slot:                 99,
		LastValidBlockHeight: 500,
		Error:                &failure,
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", sub.Status)
	assert.Equal(t, int64(99), sub.Slot)
	assert.Equal(t, int64(500), sub.LastValidBlockHeight)
	require.NotNil(t, sub.Error)
	assert.Equal(t, failure, *sub.Error)
	assert.False(t, sub.UpdatedAt.Before(sub.CreatedAt))

	_, err = store.UpdateSubmissionStatus(ctx, UpdateSubmissionStatusParams{Signature: "missing", Status: "failed"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSubmission_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetSubmission(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSubmissions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	for i, p := range []struct{ sig, payer, status string }{
		{"sig-a", "payer1", "confirmed"},
		{"sig-b", "payer1", "failed"},
		{"sig-c", "payer2", "confirmed"},
	} {
		_, err := store.CreateSubmission(ctx, CreateSubmissionParams{
			Signature:  p.sig,
			Payer:      p.payer,
			SignerKind: "local",
			Status:     p.status,
			Commitment: "confirmed",
		})
		require.NoError(t, err)
		// Spread created_at so ordering is deterministic.
		store.MustExec(t, `UPDATE submissions SET created_at = now() - make_interval(secs => $1) WHERE signature = $2`,
			float64(10-i), p.sig)
	}

	all, err := store.ListSubmissions(ctx, ListSubmissionsParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "sig-c", all[0].Signature)

	byPayer, err := store.ListSubmissions(ctx, ListSubmissionsParams{Payer: "payer1"})
	require.NoError(t, err)
	assert.Len(t, byPayer, 2)

	failed, err := store.ListSubmissions(ctx, ListSubmissionsParams{Payer: "payer1", Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "sig-b", failed[0].Signature)

	counts, err := store.CountSubmissionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["confirmed"])
	assert.Equal(t, int64(1), counts["failed"])

	deleted, err := store.DeleteSubmissionsOlderThan(ctx, time.Now().Add(-9500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
