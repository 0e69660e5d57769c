package gitrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcher(t *testing.T) *HeadWatcher {
	t.Helper()
	h, err := NewHeadWatcher(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHeadWatcherReportsBranchSwitch(t *testing.T) {
	dir, repo := initRepo(t, "main")
	h := newWatcher(t)
	require.NoError(t, h.Add(dir))

	checkout(t, repo, "feature/x")

	select {
	case got := <-h.Events():
		assert.Equal(t, dir, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no HEAD change reported")
	}
}

func TestHeadWatcherIgnoresOtherFiles(t *testing.T) {
	dir, _ := initRepo(t, "main")
	h := newWatcher(t)
	require.NoError(t, h.Add(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "ORIG_HEAD"), []byte("x\n"), 0o644))

	select {
	case got := <-h.Events():
		t.Fatalf("unexpected event for %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHeadWatcherRejectsGitFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: /elsewhere\n"), 0o644))

	h := newWatcher(t)
	assert.ErrorIs(t, h.Add(dir), ErrNotWatchable)
}

func TestHeadWatcherReconcile(t *testing.T) {
	a, _ := initRepo(t, "main")
	b, _ := initRepo(t, "main")
	h := newWatcher(t)

	h.Reconcile([]string{a, b})
	assert.ElementsMatch(t, []string{a, b}, h.Watched())

	h.Reconcile([]string{b, t.TempDir()})
	assert.Equal(t, []string{b}, h.Watched())
}
