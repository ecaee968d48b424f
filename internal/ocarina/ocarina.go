// Package ocarina implements melody recognition over touch electrode
// presses: a sliding window of the last 8 touched electrodes is matched
// against a table of known melodies (spec §4.15, Ocarina.c).
package ocarina

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/audio"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/ringbuffer"
)

// KeyBufferCapacity is the sliding window size (OCARINA_MAX_SONG_KEYS).
const KeyBufferCapacity = 8

// Melody is one recognizable key sequence. Keys holds the electrode
// indices that make up the melody, oldest first.
type Melody struct {
	Name string
	Keys []int
	Song int
}

// Catalog is the full set of recognizable melodies, checked in order on
// every touch (Ocarina.c's OcarinaSongKeySets, checked via a for-loop that
// breaks on the first match).
func Catalog() []Melody {
	return []Melody{
		{Name: "Lullaby", Keys: []int{3, 0, 2, 3, 0, 2}, Song: audio.SongLullaby},
		{Name: "CompanionSong", Keys: []int{0, 3, 2, 0, 3, 2}, Song: audio.SongCompanionSong},
		{Name: "GuardianSong", Keys: []int{1, 2, 3, 1, 2, 3}, Song: audio.SongGuardianSong},
		{Name: "StormSong", Keys: []int{4, 1, 0, 4, 1, 0}, Song: audio.SongStormSong},
		{Name: "SummerSong", Keys: []int{2, 1, 0, 2, 1, 0}, Song: audio.SongSummerSong},
		{Name: "TimeSong", Keys: []int{2, 4, 1, 2, 4, 1}, Song: audio.SongTimeSong},
		{Name: "ForestMinuet", Keys: []int{4, 0, 3, 2, 3, 2}, Song: audio.SongForestMinuet},
	}
}

// PlaySongQueuer enqueues a song for playback; audio.Engine satisfies it.
type PlaySongQueuer interface {
	PlaySong(songIndex int) error
}

// Matcher tracks the most recently touched electrodes and recognizes
// melodies among them.
type Matcher struct {
	logger   *logrus.Logger
	bus      *bus.Bus
	audio    PlaySongQueuer
	keys     *ringbuffer.CircularBuffer[int]
	melodies []Melody
	enabled  atomic.Bool
}

// New creates a Matcher. melodies is checked in order; pass Catalog() for
// the stock table.
func New(logger *logrus.Logger, b *bus.Bus, audioEngine PlaySongQueuer, melodies []Melody) *Matcher {
	m := &Matcher{
		logger:   logger,
		bus:      b,
		audio:    audioEngine,
		keys:     ringbuffer.New[int](KeyBufferCapacity),
		melodies: melodies,
	}
	m.enabled.Store(true)
	return m
}

// HandleTouchSenseAction pushes a touched electrode index into the sliding
// window and checks for a melody match. Only TOUCH_SENSOR_EVENT_TOUCHED
// (the transition into Touched) drives the buffer; the original firmware
// ignores release and later-stage classification events here.
func (m *Matcher) HandleTouchSenseAction(electrodeIndex int, touched bool) {
	if !touched || !m.enabled.Load() {
		return
	}
	m.keys.PushBackOverwrite(electrodeIndex)
	m.checkMatch()
}

// SetEnabled toggles whether touches feed the melody matcher (spec §4.7's
// ToggleSynthMode, grounded on SystemState.c's synth-mode toggle which
// enables/disables the ocarina matcher alongside touch-to-tone).
func (m *Matcher) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	if !enabled {
		m.keys.Clear()
	}
}

// Enabled reports whether the matcher is currently active.
func (m *Matcher) Enabled() bool {
	return m.enabled.Load()
}

func (m *Matcher) checkMatch() {
	for _, melody := range m.melodies {
		if m.keys.Count() < len(melody.Keys) {
			continue
		}
		if !m.keys.MatchSequence(melody.Keys) {
			continue
		}
		m.logger.WithField("song", melody.Name).Info("ocarina: melody matched")
		if err := m.bus.Notify(bus.OcarinaSongMatched, melody.Song, bus.DefaultNotifyTimeout); err != nil {
			m.logger.WithError(err).Warn("ocarina: notify failed")
		}
		if err := m.audio.PlaySong(audio.SongSuccessSound); err != nil {
			m.logger.WithError(err).Warn("ocarina: queue success sound failed")
		}
		if err := m.audio.PlaySong(melody.Song); err != nil {
			m.logger.WithError(err).Warn("ocarina: queue melody failed")
		}
		m.keys.Clear()
		break
	}
}
