package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"asset_keywords": {"credit": ["loan"]}}`), 0o644))

	ruleSet, err := LoadSeed(path)
	require.NoError(t, err)
	cache := NewCache(ruleSet, nil)

	w, err := NewWatcher(path, cache, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"asset_keywords": {"credit": ["loan", "borrower"]}}`), 0o644))

	require.Eventually(t, func() bool {
		return len(cache.Keywords("credit")) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherKeepsRulesOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"asset_keywords": {"credit": ["loan"]}}`), 0o644))

	ruleSet, err := LoadSeed(path)
	require.NoError(t, err)
	cache := NewCache(ruleSet, nil)

	w, err := NewWatcher(path, cache, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	// The previous rule set survives a failed reload.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"loan"}, cache.Keywords("credit"))
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewWatcher(path, NewCache(nil, nil), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
