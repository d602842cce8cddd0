package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, path string, data []byte) (string, error)

func (f extractorFunc) Extract(ctx context.Context, path string, data []byte) (string, error) {
	return f(ctx, path, data)
}

func TestExtractionPool_RunsWork(t *testing.T) {
	pool, err := NewExtractionPool(extractorFunc(func(_ context.Context, path string, data []byte) (string, error) {
		return path + ":" + string(data), nil
	}), 2, nil)
	require.NoError(t, err)
	defer pool.Close()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := pool.Extract(context.Background(), "a.txt", []byte{byte('a' + i)})
			assert.NoError(t, err)
			results[i] = text
		}()
	}
	wg.Wait()
	assert.Equal(t, "a.txt:a", results[0])
	assert.Equal(t, "a.txt:h", results[7])
}

func TestExtractionPool_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	pool, err := NewExtractionPool(extractorFunc(func(context.Context, string, []byte) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return "", nil
	}), 2, nil)
	require.NoError(t, err)
	defer pool.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Extract(context.Background(), "x", nil)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExtractionPool_RecoversPanics(t *testing.T) {
	pool, err := NewExtractionPool(extractorFunc(func(context.Context, string, []byte) (string, error) {
		panic("corrupt xref table")
	}), 1, nil)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Extract(context.Background(), "bad.pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt xref table")

	// The worker survives the panic.
	_, err = pool.Extract(context.Background(), "bad.pdf", nil)
	require.Error(t, err)
}

func TestExtractionPool_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	pool, err := NewExtractionPool(extractorFunc(func(context.Context, string, []byte) (string, error) {
		<-release
		return "late", nil
	}), 1, nil)
	require.NoError(t, err)
	defer pool.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Extract(ctx, "slow.pdf", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractionPool_Closed(t *testing.T) {
	pool, err := NewExtractionPool(extractorFunc(func(context.Context, string, []byte) (string, error) {
		return "", nil
	}), 1, nil)
	require.NoError(t, err)
	pool.Close()
	pool.Close()

	_, err = pool.Extract(context.Background(), "x", nil)
	assert.True(t, errors.Is(err, ErrPoolClosed))

	_, err = NewExtractionPool(nil, 1, nil)
	require.Error(t, err)
}
