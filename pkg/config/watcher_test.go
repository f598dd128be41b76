package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/utils"
)

type changeLog struct {
	mu    sync.Mutex
	files []string
}

func (c *changeLog) add(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = append(c.files, file)
}

func (c *changeLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

func TestWatcherReportsTrustedHooksChange(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changed changeLog
	watcher, err := WatchStateRoot(ctx, root, changed.add)
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "trusted-hooks.json"), []byte(`{"version":1,"approvals":[]}`), 0o644))

	ok := utils.WaitForCondition(2*time.Second, 10*time.Millisecond, func() bool {
		return len(changed.snapshot()) > 0
	})
	require.True(t, ok, "watcher never reported the change")
	assert.Equal(t, "trusted-hooks.json", changed.snapshot()[0])
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changed changeLog
	watcher, err := WatchStateRoot(ctx, root, changed.add)
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, changed.snapshot())
}
