package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Job repo tests ---

func TestSQLiteStore_JobRepo_EnqueueAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)
	id, err := s.EnqueueJob(ctx, "reminder.morning", runAt, `{"user_id":7}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueJob returned empty ID")
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("GetJob returned nil")
	}
	if job.Kind != "reminder.morning" {
		t.Errorf("Expected kind 'reminder.morning', got %q", job.Kind)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued', got %q", job.Status)
	}
	if job.PayloadJSON != `{"user_id":7}` {
		t.Errorf("Expected payload, got %q", job.PayloadJSON)
	}

	missing, err := s.GetJob(ctx, "job_missing")
	if err != nil || missing != nil {
		t.Errorf("GetJob(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSQLiteStore_JobRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)
	id1, err := s.EnqueueJob(ctx, "reminder.evening", runAt, `{}`, "reminder.evening:1:2025-03-01")
	if err != nil {
		t.Fatalf("EnqueueJob 1 failed: %v", err)
	}
	id2, err := s.EnqueueJob(ctx, "reminder.evening", runAt, `{}`, "reminder.evening:1:2025-03-01")
	if err != nil {
		t.Fatalf("EnqueueJob 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected dedupe to return same ID %q, got %q", id1, id2)
	}
	id3, err := s.EnqueueJob(ctx, "reminder.evening", runAt, `{}`, "reminder.evening:1:2025-03-02")
	if err != nil {
		t.Fatalf("EnqueueJob 3 failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected different ID for different dedupe key")
	}
}

func TestSQLiteStore_JobRepo_DedupeKeySurvivesCompletion(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueJob(ctx, "reminder.morning", time.Now(), `{}`, "daily-key")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if err := s.CompleteJob(ctx, id1); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	// A reminder that already fired today must not be queued again.
	id2, err := s.EnqueueJob(ctx, "reminder.morning", time.Now(), `{}`, "daily-key")
	if err != nil {
		t.Fatalf("EnqueueJob 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected completed job %q to absorb the duplicate, got %q", id1, id2)
	}

	// Cancelation frees the key.
	if err := s.CancelJob(ctx, id1); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	id3, err := s.EnqueueJob(ctx, "reminder.morning", time.Now(), `{}`, "daily-key")
	if err != nil {
		t.Fatalf("EnqueueJob 3 failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected new ID after canceling old job with same dedupe key")
	}
}

func TestSQLiteStore_JobRepo_ClaimDueJobs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "past_job", time.Now().Add(-time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob past failed: %v", err)
	}
	if _, err := s.EnqueueJob(ctx, "future_job", time.Now().Add(time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob future failed: %v", err)
	}

	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(jobs))
	}
	if jobs[0].Kind != "past_job" {
		t.Errorf("Expected kind 'past_job', got %q", jobs[0].Kind)
	}
	if jobs[0].Status != JobStatusRunning {
		t.Errorf("Expected status 'running', got %q", jobs[0].Status)
	}

	again, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("second ClaimDueJobs failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected claimed job to be exclusive, got %d", len(again))
	}
}

func TestSQLiteStore_JobRepo_FailAndRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "retry_job", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10); err != nil || len(jobs) != 1 {
		t.Fatalf("ClaimDueJobs = %d jobs, %v", len(jobs), err)
	}

	if err := s.FailJob(ctx, id, "transient error", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued' after first failure, got %q", job.Status)
	}
	if job.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", job.Attempt)
	}
	if job.LastError != "transient error" {
		t.Errorf("Expected error message, got %q", job.LastError)
	}
}

func TestSQLiteStore_JobRepo_FailMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "fail_job", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.ClaimDueJobs(ctx, time.Now(), 10)
		if err := s.FailJob(ctx, id, "persistent error", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("FailJob iteration %d failed: %v", i, err)
		}
	}

	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusFailed {
		t.Errorf("Expected status 'failed' after max attempts, got %q", job.Status)
	}
	if job.Attempt != 3 {
		t.Errorf("Expected attempt 3, got %d", job.Attempt)
	}
}

func TestSQLiteStore_JobRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "stale_job", time.Now().Add(-time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ClaimDueJobs = %d jobs, %v", len(jobs), err)
	}

	n, err := s.RequeueStaleRunningJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
	job, _ := s.GetJob(ctx, jobs[0].ID)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued' after requeue, got %q", job.Status)
	}
}

func TestJobRunner_PollBacksOffOnFailure(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	id, _ := s.EnqueueJob(ctx, "flaky", time.Now().Add(-time.Second), `{}`, "")
	runner := NewJobRunner(s, time.Second)
	var calls int32
	runner.RegisterHandler("flaky", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	runner.Poll(ctx)
	runner.Poll(ctx)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected backoff to defer the retry, handler ran %d times", got)
	}
	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusQueued || job.Attempt != 1 {
		t.Errorf("job = %s attempt %d, want queued attempt 1", job.Status, job.Attempt)
	}
	if !job.RunAt.After(time.Now().Add(20 * time.Second)) {
		t.Errorf("Expected retry at least 30s out, got %v", job.RunAt)
	}
}

func TestJobRunner_UnknownKindIsFailed(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	id, _ := s.EnqueueJob(ctx, "nobody", time.Now().Add(-time.Second), `{}`, "")
	NewJobRunner(s, time.Second).Poll(ctx)

	job, _ := s.GetJob(ctx, id)
	if job.Attempt != 1 || job.LastError == "" {
		t.Errorf("Expected unhandled job to record a failure, got %+v", job)
	}
}

// --- Outbox repo tests ---

func TestSQLiteStore_OutboxRepo_EnqueueAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, 42, "billing.paid", `{"text":"Спасибо!"}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueOutboxMessage returned empty ID")
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].UserID != 42 {
		t.Errorf("Expected user 42, got %d", msgs[0].UserID)
	}
	if msgs[0].Status != OutboxStatusSending {
		t.Errorf("Expected status 'sending', got %q", msgs[0].Status)
	}
}

func TestSQLiteStore_OutboxRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "pay-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "pay-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
	}
}

func TestSQLiteStore_OutboxRepo_MarkSent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "")
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 0 {
		t.Errorf("Expected 0 messages after sent, got %d", len(msgs))
	}
}

func TestSQLiteStore_OutboxRepo_FailAndRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	if err := s.FailOutboxMessage(ctx, id, "send error", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}
	msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 retryable message, got %d", len(msgs))
	}
	if msgs[0].Attempts != 1 {
		t.Errorf("Expected 1 attempt recorded, got %d", msgs[0].Attempts)
	}
}

func TestSQLiteStore_OutboxRepo_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "")
	for i := 0; i < maxOutboxAttempts; i++ {
		s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
		if err := s.FailOutboxMessage(ctx, id, "send error", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("FailOutboxMessage %d failed: %v", i, err)
		}
	}
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 0 {
		t.Errorf("Expected message to be parked as failed, claimed %d", len(msgs))
	}
}

func TestSQLiteStore_OutboxRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.EnqueueOutboxMessage(ctx, 1, "billing.paid", `{}`, "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
}

// --- Dedup repo tests ---

func TestSQLiteStore_DedupRepo_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	dup, err := s.IsDuplicate(ctx, "tg:100")
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if dup {
		t.Error("Expected false for new update")
	}

	isNew, err := s.RecordInbound(ctx, "tg:100", 5)
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !isNew {
		t.Error("Expected isNew=true for first record")
	}

	dup, err = s.IsDuplicate(ctx, "tg:100")
	if err != nil {
		t.Fatalf("IsDuplicate after record failed: %v", err)
	}
	if !dup {
		t.Error("Expected true for duplicate update")
	}

	isNew2, err := s.RecordInbound(ctx, "tg:100", 5)
	if err != nil {
		t.Fatalf("RecordInbound duplicate failed: %v", err)
	}
	if isNew2 {
		t.Error("Expected isNew=false for duplicate record")
	}

	if err := s.MarkProcessed(ctx, "tg:100"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
}
