package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/infrastructure/memory"
)

func seedProduct(t *testing.T, repo *memory.ProductRepository, id string, stock int) {
	t.Helper()
	p, err := catalog.NewProduct(id, "Catan", 29990, stock)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), p))
}

func TestProductRepositoryAdjustStock(t *testing.T) {
	repo := memory.NewProductRepository()
	ctx := context.Background()
	seedProduct(t, repo, "p1", 5)

	remaining, err := repo.AdjustStock(ctx, "p1", -2)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	remaining, err = repo.AdjustStock(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	_, err = repo.AdjustStock(ctx, "p1", -5)
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)

	_, err = repo.AdjustStock(ctx, "p1", 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidQuantity)

	_, err = repo.AdjustStock(ctx, "ghost", -1)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestProductRepositoryConcurrentAdjust(t *testing.T) {
	repo := memory.NewProductRepository()
	ctx := context.Background()
	seedProduct(t, repo, "p1", 10)

	// 20 goroutines race for 10 units; exactly 10 may win.
	var wg sync.WaitGroup
	wins := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.AdjustStock(ctx, "p1", -1); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 10)

	p, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestProductRepositoryGetIsIsolated(t *testing.T) {
	repo := memory.NewProductRepository()
	ctx := context.Background()
	seedProduct(t, repo, "p1", 5)

	p, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	p.Stock = 0

	again, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, again.Stock)
}
