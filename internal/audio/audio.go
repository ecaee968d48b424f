// Package audio implements the badge's piezo synth engine: song playback
// from a bounded queue and touch-to-tone generation (spec §4.14).
package audio

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/ringbuffer"
)

// SongQueueCapacity is the number of pending song-play requests the queue
// holds (spec §4.14).
const SongQueueCapacity = 10

// InterNoteGap is the pause inserted between non-slurred consecutive notes.
const InterNoteGap = 50 * time.Millisecond

// NoteName identifies a pitch (or rest) by name; the frequency table is a
// hardware/tuning concern supplied by the caller.
type NoteName int

const NoteRest NoteName = -1

// Note is one entry in a Song's note list.
type Note struct {
	Name NoteName
	// Type is the note's duration as a fraction of a whole note (e.g. 0.25
	// for a quarter note), matching the firmware's NoteType typedef.
	Type  float64
	Slur  bool
}

// Song is a named, tempo-tagged sequence of notes.
type Song struct {
	Index int
	Name  string
	Tempo int
	Notes []Note
}

// DurationMs returns a note's play duration given the song's tempo, per
// Song.h's GetNoteTypeInMilliseconds: (60000 / tempo) * 4 * noteType.
func (s Song) DurationMs(n Note) time.Duration {
	ms := (60000.0 / float64(s.Tempo)) * 4.0 * n.Type
	return time.Duration(ms) * time.Millisecond
}

// NoteAction is the action carried by a SongNoteAction event.
type NoteAction int

const (
	SongStart NoteAction = iota
	ToneStart
	ToneStop
	SongStop
)

// NoteEvent is the payload of a SongNoteAction event.
type NoteEvent struct {
	SongIndex int
	Action    NoteAction
	Note      NoteName
}

// Size implements bus.Sized.
func (NoteEvent) Size() int { return 16 }

// ToneDriver drives the physical PWM tone generator (out of scope per
// spec §1; the 3-bit-resolution piezo channel is a hardware concern).
type ToneDriver interface {
	StartTone(freqHz int) error
	StopTone() error
}

// FrequencyTable maps a note name to a drive frequency.
type FrequencyTable func(NoteName) int

// ElectrodeFrequencyTable maps a touch electrode index to a drive
// frequency, per hardware variant (spec §4.14).
type ElectrodeFrequencyTable func(electrodeIndex int) int

// Engine owns the song queue, the currently-playing song (which always
// finishes before the next dequeues), and touch-to-tone mode. The queue
// holds song indices rather than full Song values: Song.Notes is a slice,
// so a Song cannot satisfy ringbuffer.CircularBuffer's comparable
// constraint, and indices are all the firmware's queue ever carried anyway
// (Song.h's Song enum is exactly this).
type Engine struct {
	logger    *logrus.Logger
	bus       *bus.Bus
	driver    ToneDriver
	freq      FrequencyTable
	touchFreq ElectrodeFrequencyTable
	lookup    func(int) Song

	queue *ringbuffer.CircularBuffer[int]

	touchSoundEnabled bool
	octaveShift       int
	playing           bool
}

// New creates an Engine. lookup resolves a song index to its full Song
// definition (notes, tempo, name).
func New(logger *logrus.Logger, b *bus.Bus, driver ToneDriver, freq FrequencyTable, touchFreq ElectrodeFrequencyTable, lookup func(int) Song) *Engine {
	return &Engine{
		logger:    logger,
		bus:       b,
		driver:    driver,
		freq:      freq,
		touchFreq: touchFreq,
		lookup:    lookup,
		queue:     ringbuffer.New[int](SongQueueCapacity),
	}
}

// SetTouchSoundEnabled toggles touch-to-tone mode (spec §4.7's ToggleSynthMode).
func (e *Engine) SetTouchSoundEnabled(enabled bool, octaveShift int) {
	e.touchSoundEnabled = enabled
	e.octaveShift = octaveShift
	if !enabled {
		_ = e.driver.StopTone()
	}
}

// TouchSoundEnabled reports whether touch-to-tone mode is active.
func (e *Engine) TouchSoundEnabled() bool {
	return e.touchSoundEnabled
}

// HandleTouchSenseAction drives a tone for a touched electrode when
// touch-sound mode is enabled and no song is currently playing (spec §4.14:
// "During touch-mode (not in a song)...").
func (e *Engine) HandleTouchSenseAction(electrodeIndex int, touched bool) {
	if !e.touchSoundEnabled || e.playing {
		return
	}
	if touched {
		freq := e.touchFreq(electrodeIndex)
		if e.octaveShift > 0 {
			freq <<= e.octaveShift
		}
		if err := e.driver.StartTone(freq); err != nil {
			e.logger.WithError(err).Warn("audio: start tone failed")
		}
	} else {
		if err := e.driver.StopTone(); err != nil {
			e.logger.WithError(err).Warn("audio: stop tone failed")
		}
	}
}

// PlaySong enqueues a song index for playback. It returns ringbuffer.ErrFull
// if the queue is at capacity (spec §4.14's bounded 10-entry queue).
func (e *Engine) PlaySong(songIndex int) error {
	return e.queue.PushBack(songIndex)
}

// QueueDepth returns the number of songs waiting to play.
func (e *Engine) QueueDepth() int {
	return e.queue.Count()
}

// Run launches the per-note playback task: dequeues and plays songs to
// completion, one note at a time, honoring slurs and the inter-note gap
// (spec §4.14, §5).
func (e *Engine) Run(ctx context.Context) {
	groutine.Go(ctx, "audio-synth", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			songIndex, err := e.queue.PopFront()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
			e.playSongToCompletion(ctx, e.lookup(songIndex))
		}
	})
}

func (e *Engine) playSongToCompletion(ctx context.Context, song Song) {
	e.playing = true
	defer func() { e.playing = false }()

	e.emit(song.Index, SongStart, NoteRest)
	for i, note := range song.Notes {
		select {
		case <-ctx.Done():
			return
		default:
		}
		duration := song.DurationMs(note)
		if note.Name == NoteRest {
			time.Sleep(duration)
			continue
		}
		e.emit(song.Index, ToneStart, note.Name)
		if err := e.driver.StartTone(e.freq(note.Name)); err != nil {
			e.logger.WithError(err).Warn("audio: start tone failed")
		}
		time.Sleep(duration)
		if err := e.driver.StopTone(); err != nil {
			e.logger.WithError(err).Warn("audio: stop tone failed")
		}
		e.emit(song.Index, ToneStop, note.Name)

		lastNote := i == len(song.Notes)-1
		if !note.Slur && !lastNote {
			time.Sleep(InterNoteGap)
		}
	}
	e.emit(song.Index, SongStop, NoteRest)
}

func (e *Engine) emit(songIndex int, action NoteAction, note NoteName) {
	evt := NoteEvent{SongIndex: songIndex, Action: action, Note: note}
	if err := e.bus.Notify(bus.SongNoteAction, evt, bus.DefaultNotifyTimeout); err != nil {
		e.logger.WithError(err).Warn("audio: notify failed")
	}
}
