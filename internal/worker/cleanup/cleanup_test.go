package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// mockExecutor は実行されたクエリを順番に記録する。
type mockExecutor struct {
	queries []string
	args    [][]interface{}
	result  sql.Result
	err     error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.queries = append(m.queries, query)
	m.args = append(m.args, args)
	return m.result, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_DefaultRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{}}, newTestLogger(&buf))

	if job.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesSessionsAndWebhookEvents(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(mock.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(mock.queries))
	}
	if !strings.Contains(mock.queries[0], "DELETE FROM sessions") {
		t.Errorf("first query = %q, want sessions delete", mock.queries[0])
	}
	if !strings.Contains(mock.queries[0], "expires_at") {
		t.Errorf("sessions delete must filter on expires_at: %q", mock.queries[0])
	}
	if !strings.Contains(mock.queries[1], "DELETE FROM webhook_events") {
		t.Errorf("second query = %q, want webhook_events delete", mock.queries[1])
	}
	if !strings.Contains(mock.queries[1], "received_at") {
		t.Errorf("webhook_events delete must filter on received_at: %q", mock.queries[1])
	}
}

func TestCleanupJob_Run_UsesRetentionInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	_ = job.Run(context.Background())

	if len(mock.args) != 2 || len(mock.args[1]) != 1 {
		t.Fatalf("args = %v", mock.args)
	}
	interval, ok := mock.args[1][0].(string)
	if !ok {
		t.Fatalf("interval arg is %T, want string", mock.args[1][0])
	}
	if interval != "90 days" {
		t.Errorf("interval = %q, want %q", interval, "90 days")
	}
}

func TestCleanupJob_Run_CustomRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.RetentionDays = 30

	_ = job.Run(context.Background())

	interval, _ := mock.args[1][0].(string)
	if interval != "30 days" {
		t.Errorf("interval = %q, want %q", interval, "30 days")
	}
}

func TestCleanupJob_Run_LogsDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 7}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	_ = job.Run(context.Background())

	var entry map[string]interface{}
	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["sessions_deleted"] == float64(7) && entry["webhook_events_deleted"] == float64(7) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected deleted counts in log output: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error on DB failure")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("expected ERROR log entry: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}
}
