package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

var _ ports.BatchStore = (*MemoryStore)(nil)

func newBatch(id, hash string) *domain.CalcBatch {
	return &domain.CalcBatch{
		ID:         id,
		TenantID:   "acme",
		PAMID:      "pam-1",
		InputsHash: hash,
		Status:     domain.BatchQueued,
	}
}

func TestMemoryStoreFindOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then finds", func(t *testing.T) {
		s := NewMemoryStore()

		first, created, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "b1", first.ID)

		second, created, err := s.FindOrCreateBatch(ctx, newBatch("b2", "h1"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "b1", second.ID, "same inputs must resolve to the existing batch")
	})

	t.Run("different hash creates a new batch", func(t *testing.T) {
		s := NewMemoryStore()

		_, created, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)
		require.True(t, created)

		_, created, err = s.FindOrCreateBatch(ctx, newBatch("b2", "h2"))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("different tenant never collides", func(t *testing.T) {
		s := NewMemoryStore()

		_, created, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)
		require.True(t, created)

		other := newBatch("b2", "h1")
		other.TenantID = "globex"
		_, created, err = s.FindOrCreateBatch(ctx, other)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("concurrent submissions observe one batch", func(t *testing.T) {
		s := NewMemoryStore()

		const workers = 16
		var wg sync.WaitGroup
		createdCount := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := s.FindOrCreateBatch(ctx, newBatch(fmt.Sprintf("b%d", i), "h1"))
				assert.NoError(t, err)
				createdCount <- created
			}()
		}
		wg.Wait()
		close(createdCount)

		total := 0
		for created := range createdCount {
			if created {
				total++
			}
		}
		assert.Equal(t, 1, total, "exactly one submission must win")
	})

	t.Run("returned batch is a detached copy", func(t *testing.T) {
		s := NewMemoryStore()

		created, _, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)
		created.Status = domain.BatchRunning

		stored, err := s.GetBatch(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.BatchQueued, stored.Status)
	})
}

func TestMemoryStoreUpdateBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("updates persist", func(t *testing.T) {
		s := NewMemoryStore()
		batch, _, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)

		batch.Status = domain.BatchRunning
		require.NoError(t, s.UpdateBatch(ctx, batch))

		stored, err := s.GetBatch(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.BatchRunning, stored.Status)
	})

	t.Run("unknown batch", func(t *testing.T) {
		s := NewMemoryStore()
		err := s.UpdateBatch(ctx, newBatch("ghost", "h1"))
		require.ErrorIs(t, err, domain.ErrBatchNotFound)
	})

	t.Run("failed batch releases its idempotency key", func(t *testing.T) {
		s := NewMemoryStore()
		batch, _, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
		require.NoError(t, err)

		batch.Status = domain.BatchFailed
		require.NoError(t, s.UpdateBatch(ctx, batch))

		_, created, err := s.FindOrCreateBatch(ctx, newBatch("b2", "h1"))
		require.NoError(t, err)
		assert.True(t, created, "failed batches must not block resubmission")
	})
}

func TestMemoryStoreGetBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetBatch(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestMemoryStoreResults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, err := s.FindOrCreateBatch(ctx, newBatch("b1", "h1"))
	require.NoError(t, err)

	page1 := []domain.CalcResult{
		{BatchID: "b1", ItemID: "i1", AdjustedPrice: decimal.NewFromInt(100)},
		{BatchID: "b1", ItemID: "i2", Error: "boom"},
	}
	page2 := []domain.CalcResult{
		{BatchID: "b1", ItemID: "i3", AdjustedPrice: decimal.NewFromInt(300)},
	}
	require.NoError(t, s.SaveResults(ctx, page1))
	require.NoError(t, s.SaveResults(ctx, page2))

	results, err := s.ListResults(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "i1", results[0].ItemID)
	assert.False(t, results[1].Succeeded())

	empty, err := s.ListResults(ctx, "no-such-batch")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
