package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyoncap/mailroom/internal/catalog"
	"github.com/halcyoncap/mailroom/internal/config"
	"github.com/halcyoncap/mailroom/internal/document"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Memory.Provider = "inmemory"
	cfg.Embeddings.Provider = "local"
	cfg.Scan.Enabled = false
	cfg.Filing.Root = filepath.Join(dir, "documents")
	cfg.Catalog.Path = filepath.Join(dir, "catalog.json")
	cfg.Rules.Path = filepath.Join(dir, "rules.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t)

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Pipeline)
	assert.NotNil(t, c.Registry)
	assert.Nil(t, c.Watcher)
}

func TestContainerEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Rules.Path, []byte(`{
		"classification_patterns": {
			"real_estate": {"rent_roll": ["rent\\s+roll"]}
		}
	}`), 0o644))

	ctx := context.Background()
	c, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Registry.AddAsset(ctx, &catalog.Asset{
		DealName: "Project Meridian",
		Type:     catalog.AssetRealEstate,
	}))

	result := c.Pipeline.Process(ctx, document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll"),
	}, document.EmailContext{Subject: "Project Meridian rent roll"})

	assert.Equal(t, document.StatusSuccess, result.Status)
	assert.Equal(t, "rent_roll", result.Category)
	assert.NotEmpty(t, result.SavedPath)
}

func TestContainerWithRuleWatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.Watch = true
	require.NoError(t, os.WriteFile(cfg.Rules.Path, []byte(`{}`), 0o644))

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Watcher)
}

func TestContainerMissingSeedIsFine(t *testing.T) {
	cfg := testConfig(t)
	// No rules.json written.
	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
}

func TestPerTypePolicyFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.AllowedExtensionsByType = map[string][]string{"credit": {".csv"}}
	cfg.Ingest.MaxFileSizeByType = map[string]int64{"credit": 10}

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	policy := c.Cache.Configuration()
	assert.Equal(t, []string{".csv"}, policy.AllowedExtensions["credit"])
	assert.Equal(t, int64(10), policy.MaxFileSizeByType["credit"])
}
