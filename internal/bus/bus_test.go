package bus

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, depth int) (*Bus, context.CancelFunc) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := New(logger, depth)
	ctx, cancel := context.WithCancel(context.Background())
	b.Run(ctx)
	t.Cleanup(cancel)
	return b, cancel
}

func TestNotifyDeliversToSubscriber(t *testing.T) {
	b, _ := newTestBus(t, 4)

	received := make(chan any, 1)
	b.Subscribe(TouchEnabled, func(payload any) {
		received <- payload
	})

	require.NoError(t, b.Notify(TouchEnabled, "electrode-3", 100*time.Millisecond))

	select {
	case payload := <-received:
		assert.Equal(t, "electrode-3", payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}

func TestNotifyOrderingSingleProducer(t *testing.T) {
	b, _ := newTestBus(t, 8)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 2)
	b.Subscribe(TouchSenseAction, func(payload any) {
		mu.Lock()
		order = append(order, payload.(int))
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, b.Notify(TouchSenseAction, 1, time.Second))
	require.NoError(t, b.Notify(TouchSenseAction, 2, time.Second))

	for i := 0; i < 2; i++ {
		<-done
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestNotifyQueueFullReturnsErrAfterTimeout(t *testing.T) {
	logger := logrus.New()
	b := New(logger, 1)
	// No Run: worker never drains, so the first send fills the buffer
	// and the second must time out.
	require.NoError(t, b.Notify(BleDropped, nil, 0))

	start := time.Now()
	err := b.Notify(BleDropped, nil, 30*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestMultipleHandlersInvokedInRegistrationOrder(t *testing.T) {
	b, _ := newTestBus(t, 4)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	b.Subscribe(WifiConnected, func(any) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		done <- struct{}{}
	})
	b.Subscribe(WifiConnected, func(any) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, b.Notify(WifiConnected, nil, time.Second))
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

type sizedPayload struct{ n int }

func (s sizedPayload) Size() int { return s.n }

func TestNotifyRejectsOversizedSizedPayload(t *testing.T) {
	b, _ := newTestBus(t, 4)
	err := b.Notify(OtaRequired, sizedPayload{n: MaxPayloadBytes + 1}, time.Second)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
