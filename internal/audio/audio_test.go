package audio

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/bus"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := bus.New(logger, 32)
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

type recordingDriver struct {
	mu      sync.Mutex
	started []int
	stops   int
}

func (d *recordingDriver) StartTone(freqHz int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, freqHz)
	return nil
}

func (d *recordingDriver) StopTone() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func fixedFreq(NoteName) int { return 440 }
func fixedElectrodeFreq(int) int { return 220 }

func TestPlaySongRunsToCompletionEmittingStartAndStop(t *testing.T) {
	b := newTestBus(t)
	driver := &recordingDriver{}
	catalog := map[int]Song{
		0: {Index: 0, Name: "test", Tempo: 4800, Notes: []Note{ // fast tempo keeps the test quick
			{Name: 1, Type: 0.25},
			{Name: 2, Type: 0.25},
		}},
	}
	e := New(newTestLogger(), b, driver, fixedFreq, fixedElectrodeFreq, LookupFromCatalog(catalog))

	events := make(chan NoteEvent, 16)
	b.Subscribe(bus.SongNoteAction, func(p any) { events <- p.(NoteEvent) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Run(ctx)

	require.NoError(t, e.PlaySong(0))

	var seen []NoteAction
	for i := 0; i < 5; i++ {
		select {
		case ev := <-events:
			seen = append(seen, ev.Action)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for note event %d, got %v so far", i, seen)
		}
	}
	assert.Equal(t, []NoteAction{SongStart, ToneStart, ToneStop, ToneStart, ToneStop}, seen[:5])
}

func TestPlaySongRejectsWhenQueueFull(t *testing.T) {
	b := newTestBus(t)
	driver := &recordingDriver{}
	catalog := map[int]Song{0: {Index: 0, Tempo: 120, Notes: []Note{{Name: 1, Type: 1}}}}
	e := New(newTestLogger(), b, driver, fixedFreq, fixedElectrodeFreq, LookupFromCatalog(catalog))

	for i := 0; i < SongQueueCapacity; i++ {
		require.NoError(t, e.PlaySong(0))
	}
	assert.Error(t, e.PlaySong(0))
}

func TestTouchSoundDisabledDoesNotDriveTone(t *testing.T) {
	b := newTestBus(t)
	driver := &recordingDriver{}
	e := New(newTestLogger(), b, driver, fixedFreq, fixedElectrodeFreq, LookupFromCatalog(DefaultCatalog()))

	e.HandleTouchSenseAction(0, true)
	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Empty(t, driver.started)
}

func TestTouchSoundEnabledDrivesToneOnTouch(t *testing.T) {
	b := newTestBus(t)
	driver := &recordingDriver{}
	e := New(newTestLogger(), b, driver, fixedFreq, fixedElectrodeFreq, LookupFromCatalog(DefaultCatalog()))

	e.SetTouchSoundEnabled(true, 0)
	e.HandleTouchSenseAction(3, true)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.Len(t, driver.started, 1)
	assert.Equal(t, 220, driver.started[0])
}
