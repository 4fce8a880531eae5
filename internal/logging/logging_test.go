package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerDoesNotBlockWhenQueueFull(t *testing.T) {
	l := New(1, Debug)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.Infof("message %d", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Infof blocked; asynchronous logger must never block the caller")
	}
}

func TestLevelFiltering(t *testing.T) {
	l := New(8, Warn)
	defer l.Close()

	l.Debugf("should be filtered")
	l.Infof("should be filtered too")
	l.Warnf("kept")

	require.Equal(t, uint64(0), l.Dropped())
}
