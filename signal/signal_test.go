package signal

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitClosed fails the test if the channel is not closed in time.
func waitClosed(t *testing.T, c <-chan struct{}) {
	t.Helper()

	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

// TestRequestShutdown checks that a shutdown request closes the shutdown
// channel and that later requests do not block.
func TestRequestShutdown(t *testing.T) {
	t.Parallel()

	interceptor := newInterceptor()
	go interceptor.mainInterruptHandler()

	require.True(t, interceptor.Alive())
	interceptor.RequestShutdown()
	waitClosed(t, interceptor.ShutdownChannel())

	require.False(t, interceptor.Alive())
	interceptor.RequestShutdown()
}

// TestInterruptSignal checks that a signal received on the interrupt channel
// triggers the shutdown.
func TestInterruptSignal(t *testing.T) {
	t.Parallel()

	interceptor := newInterceptor()
	go interceptor.mainInterruptHandler()

	interceptor.interruptChannel <- syscall.SIGTERM
	waitClosed(t, interceptor.ShutdownChannel())
}
