package dbpool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestPool builds a Pool around placeholder handles without touching a
// real MySQL server, exercising only the semaphore+mutex acquire/release
// discipline spec.md §4.7 mandates.
func newTestPool(size int) *Pool {
	p := &Pool{
		sem:  make(chan struct{}, size),
		free: make(chan *sql.Conn, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
		p.free <- nil
	}
	return p
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	p := newTestPool(1)

	_, release1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, release2, err := p.Acquire(context.Background())
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should have succeeded after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := newTestPool(1)
	_, _, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = p.Acquire(ctx)
	require.Error(t, err)
}
