package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func sampleFile(url, date string) types.DiscoveredFile {
	return types.DiscoveredFile{
		TenantID:      "acme",
		ConfigID:      "cfg-1",
		FileURL:       url,
		FileName:      "report.csv",
		DiscoveryDate: date,
		DiscoveredAt:  time.Now(),
	}
}

func TestDiscoveredFileRepositoryInsertRejectsDuplicateKey(t *testing.T) {
	repo, err := NewDiscoveredFileRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	file := sampleFile("https://x/report.csv", "2026-07-31")

	_, inserted, err := repo.Insert(file)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = repo.Insert(file)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestDiscoveredFileRepositoryExists(t *testing.T) {
	repo, err := NewDiscoveredFileRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	file := sampleFile("https://x/report.csv", "2026-07-31")
	assert.False(t, repo.Exists("acme", file.IdempotencyKey()))

	_, _, err = repo.Insert(file)
	require.NoError(t, err)
	assert.True(t, repo.Exists("acme", file.IdempotencyKey()))
}

func TestDiscoveredFileRepositoryMarkPublishResultSuccess(t *testing.T) {
	repo, err := NewDiscoveredFileRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	file := sampleFile("https://x/report.csv", "2026-07-31")
	stored, _, err := repo.Insert(file)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.FileID)
	assert.Equal(t, types.DiscoveredFileDiscovered, stored.Status)

	require.NoError(t, repo.MarkPublishResult("acme", file.IdempotencyKey(), true))

	list := repo.ListByConfig("acme", "cfg-1")
	require.Len(t, list, 1)
	assert.Equal(t, types.DiscoveredFileEventPublished, list[0].Status)
}

func TestDiscoveredFileRepositoryMarkPublishResultFailureStaysDiscovered(t *testing.T) {
	repo, err := NewDiscoveredFileRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	file := sampleFile("https://x/report.csv", "2026-07-31")
	_, _, err = repo.Insert(file)
	require.NoError(t, err)

	require.NoError(t, repo.MarkPublishResult("acme", file.IdempotencyKey(), false))

	list := repo.ListByConfig("acme", "cfg-1")
	require.Len(t, list, 1)
	assert.Equal(t, types.DiscoveredFileDiscovered, list[0].Status)
}

func TestDiscoveredFileRepositorySweepRemovesExpiredRows(t *testing.T) {
	repo, err := NewDiscoveredFileRepository(t.TempDir(), time.Minute, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	old := sampleFile("https://x/old.csv", "2026-07-30")
	old.DiscoveredAt = time.Now().Add(-time.Hour)
	fresh := sampleFile("https://x/new.csv", "2026-07-31")

	_, _, err = repo.Insert(old)
	require.NoError(t, err)
	_, _, err = repo.Insert(fresh)
	require.NoError(t, err)

	repo.sweep()

	assert.False(t, repo.Exists("acme", old.IdempotencyKey()))
	assert.True(t, repo.Exists("acme", fresh.IdempotencyKey()))
}
