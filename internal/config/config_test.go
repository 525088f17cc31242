package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, []string{"http://elasticsearch:9200"}, cfg.ElasticsearchHosts)
	assert.Equal(t, "catalog", cfg.IndexAlias)
	assert.Equal(t, "catalog.index.events", cfg.EventQueue)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Empty(t, cfg.ReindexSchedule)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_HOSTS", "http://es1:9200, http://es2:9200")
	t.Setenv("INDEX_BATCH_SIZE", "100")
	t.Setenv("INDEX_ENABLE_ICU_FOLDING", "true")
	t.Setenv("MAPPING_CACHE_TTL", "30m")

	cfg := Load()
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.ElasticsearchHosts)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.True(t, cfg.EnableIcuFolding)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Load()
	cfg.ElasticsearchHosts = nil
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.IndexAlias = ""
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}
