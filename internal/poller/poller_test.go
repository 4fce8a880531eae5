package poller

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitReportsReadReadiness(t *testing.T) {
	p, err := New(16)
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())
	require.NoError(t, p.Add(rfd, Read))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	found := false
	for i := 0; i < n; i++ {
		if p.EventFD(i) == rfd {
			found = true
			require.True(t, p.EventMask(i).Has(Read))
		}
	}
	require.True(t, found)

	require.NoError(t, p.Remove(rfd))
}

func TestWaitTimesOutWithNoReadyFds(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	require.NoError(t, p.Add(int(r.Fd()), Read))

	start := time.Now()
	n, err := p.Wait(50)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Less(t, time.Since(start), 2*time.Second)
}
