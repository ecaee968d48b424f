package touchaction

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/touch"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := bus.New(logger, 16)
	ctx, cancel := context.WithCancel(context.Background())
	b.Run(ctx)
	t.Cleanup(cancel)
	return b
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func recvCommand(t *testing.T, ch <-chan Command) Command {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("expected a TouchActionCmd event")
		return Unknown
	}
}

func TestNextLedSequenceGestureEmitsExactlyOneCommand(t *testing.T) {
	b := newTestBus(t)
	p := NewProcessor(newTestLogger(), b, TronPatterns)

	events := make(chan Command, 4)
	b.Subscribe(bus.TouchActionCmd, func(payload any) { events <- payload.(Command) })

	// TRON_BADGE "next" gesture: electrodes 2 and 7 o'clock (indices 2, 5)
	// touched, everything else released.
	p.HandleTouchSenseAction(touch.SenseAction{Index: 2, State: touch.Touched})
	p.HandleTouchSenseAction(touch.SenseAction{Index: 5, State: touch.Touched})

	assert.Equal(t, NextLedSequence, recvCommand(t, events))

	select {
	case c := <-events:
		t.Fatalf("expected exactly one command, got a second: %v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearMustPrecedeNextNonClearCommand(t *testing.T) {
	b := newTestBus(t)
	p := NewProcessor(newTestLogger(), b, TronPatterns)

	events := make(chan Command, 4)
	b.Subscribe(bus.TouchActionCmd, func(payload any) { events <- payload.(Command) })

	p.HandleTouchSenseAction(touch.SenseAction{Index: 2, State: touch.Touched})
	p.HandleTouchSenseAction(touch.SenseAction{Index: 5, State: touch.Touched})
	require.Equal(t, NextLedSequence, recvCommand(t, events))

	// Releasing 2 o'clock while 7 o'clock is still held matches no pattern
	// (not all released, and clearRequired blocks re-matching); nothing new
	// should fire.
	p.HandleTouchSenseAction(touch.SenseAction{Index: 2, State: touch.Released})
	select {
	case c := <-events:
		t.Fatalf("expected no command while clear is pending, got %v", c)
	case <-time.After(50 * time.Millisecond):
	}

	// Fully releasing clears the gate.
	p.HandleTouchSenseAction(touch.SenseAction{Index: 5, State: touch.Released})
	assert.Equal(t, Clear, recvCommand(t, events))

	// The same gesture can now fire again.
	p.HandleTouchSenseAction(touch.SenseAction{Index: 2, State: touch.Touched})
	p.HandleTouchSenseAction(touch.SenseAction{Index: 5, State: touch.Touched})
	assert.Equal(t, NextLedSequence, recvCommand(t, events))
}

func TestUnmatchedStateEmitsNothing(t *testing.T) {
	b := newTestBus(t)
	p := NewProcessor(newTestLogger(), b, TronPatterns)

	events := make(chan Command, 4)
	b.Subscribe(bus.TouchActionCmd, func(payload any) { events <- payload.(Command) })

	p.HandleTouchSenseAction(touch.SenseAction{Index: 0, State: touch.Touched})
	select {
	case c := <-events:
		t.Fatalf("expected no command for an unrecognized pattern, got %v", c)
	case <-time.After(50 * time.Millisecond):
	}
}
