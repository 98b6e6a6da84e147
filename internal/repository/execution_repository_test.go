package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func TestExecutionRepositorySaveAndGet(t *testing.T) {
	repo, err := NewExecutionRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	exec := types.RetrievalExecution{TenantID: "acme", ExecutionID: "exec-1", Status: types.ExecutionStatusRunning}
	saved, err := repo.Save(exec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	saved.Status = types.ExecutionStatusSucceeded
	saved, err = repo.Save(saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	got, ok := repo.Get("acme", "exec-1")
	require.True(t, ok)
	assert.Equal(t, types.ExecutionStatusSucceeded, got.Status)
}

func TestExecutionRepositorySaveRejectsVersionConflict(t *testing.T) {
	repo, err := NewExecutionRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Save(types.RetrievalExecution{TenantID: "acme", ExecutionID: "exec-1"})
	require.NoError(t, err)

	_, err = repo.Save(types.RetrievalExecution{TenantID: "acme", ExecutionID: "exec-1", Version: 99})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestExecutionRepositorySweepRemovesExpiredTerminalRows(t *testing.T) {
	repo, err := NewExecutionRepository(t.TempDir(), time.Minute, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Save(types.RetrievalExecution{
		TenantID:    "acme",
		ExecutionID: "expired",
		Status:      types.ExecutionStatusSucceeded,
		FinishedAt:  time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.Save(types.RetrievalExecution{
		TenantID:    "acme",
		ExecutionID: "fresh",
		Status:      types.ExecutionStatusSucceeded,
		FinishedAt:  time.Now(),
	})
	require.NoError(t, err)

	repo.sweep()

	_, ok := repo.Get("acme", "expired")
	assert.False(t, ok)
	_, ok = repo.Get("acme", "fresh")
	assert.True(t, ok)
}

func TestExecutionRepositoryListByConfig(t *testing.T) {
	repo, err := NewExecutionRepository(t.TempDir(), time.Hour, testLogger())
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Save(types.RetrievalExecution{TenantID: "acme", ExecutionID: "e1", ConfigID: "cfg-1"})
	require.NoError(t, err)
	_, err = repo.Save(types.RetrievalExecution{TenantID: "acme", ExecutionID: "e2", ConfigID: "cfg-2"})
	require.NoError(t, err)

	list := repo.ListByConfig("acme", "cfg-1")
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0].ExecutionID)
}
