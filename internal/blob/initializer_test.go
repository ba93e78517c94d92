package blob

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializerMemoizesSuccess(t *testing.T) {
	var calls int32
	once := NewInitializer(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, once.Ensure(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestInitializerRetriesAfterFailure(t *testing.T) {
	var calls int
	boom := errors.New("boom")
	once := NewInitializer(func(context.Context) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, once.Ensure(context.Background()), boom)
	require.NoError(t, once.Ensure(context.Background()))
	require.NoError(t, once.Ensure(context.Background()))
	assert.Equal(t, 2, calls)

	once.Reset()
	require.NoError(t, once.Ensure(context.Background()))
	assert.Equal(t, 3, calls)
}
