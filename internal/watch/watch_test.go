package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqllineage/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	files []string
}

func (r *recorder) record(_ context.Context, file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, file)
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func start(t *testing.T, files []string, rec *recorder) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := New(Config{Logger: testutil.NewTestLogger(t), Debounce: 50 * time.Millisecond})
	go func() { done <- w.Watch(ctx, files, rec.record) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// Let the watcher register its directories.
	time.Sleep(100 * time.Millisecond)
	return cancel
}

func TestWatch_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "query.sql")
	require.NoError(t, os.WriteFile(file, []byte("SELECT 1"), 0o600))

	rec := &recorder{}
	start(t, []string{file}, rec)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte("SELECT 2"), 0o600))
	}

	require.Eventually(t, func() bool { return len(rec.calls()) > 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	calls := rec.calls()
	assert.Len(t, calls, 1)
	abs, err := filepath.Abs(file)
	require.NoError(t, err)
	assert.Equal(t, abs, calls[0])
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "query.sql")
	require.NoError(t, os.WriteFile(file, []byte("SELECT 1"), 0o600))

	rec := &recorder{}
	start(t, []string{file}, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.sql"), []byte("SELECT 2"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.calls())
}

func TestWatch_MissingDirectory(t *testing.T) {
	w := New(Config{})
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "nope", "q.sql")}, func(context.Context, string) {})
	assert.Error(t, err)
}
