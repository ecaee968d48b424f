package led

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/joehacksalot/badgecore/internal/timeutil"
)

// unset is the sentinel value for an omitted n1/n2 field (spec §6's pixel
// schema: n1/n2 are optional; omitted means "not part of this axis").
const unset = -2

// Pixel is one entry in a sequence frame's pixel list (spec §6).
type Pixel struct {
	N1 *int   `json:"n1,omitempty"`
	N2 *int   `json:"n2,omitempty"`
	R  *uint8 `json:"r,omitempty"`
	G  *uint8 `json:"g,omitempty"`
	B  *uint8 `json:"b,omitempty"`
	I  *uint8 `json:"i,omitempty"`
}

func (p Pixel) n1() int {
	if p.N1 == nil {
		return unset
	}
	return *p.N1
}

func (p Pixel) n2() int {
	if p.N2 == nil {
		return unset
	}
	return *p.N2
}

func (p Pixel) color() Color {
	c := Color{I: 100}
	if p.R != nil {
		c.R = *p.R
	}
	if p.G != nil {
		c.G = *p.G
	}
	if p.B != nil {
		c.B = *p.B
	}
	if p.I != nil {
		c.I = *p.I
	}
	return c
}

// apply paints this pixel's addressed range into buf, per spec §4.13's
// addressing rules.
func (p Pixel) apply(buf []Color) {
	n1, n2 := p.n1(), p.n2()
	color := p.color()

	switch {
	case n1 == -1 || n2 == -1:
		setRange(buf, 0, len(buf)-1, color)
	case n1 >= 0 && n2 == unset:
		setRange(buf, n1, n1, color)
	case n1 == unset && n2 >= 0:
		setRange(buf, n2, n2, color)
	case n1 >= 0 && n2 >= 0:
		lo, hi := n1, n2
		if lo > hi {
			lo, hi = hi, lo
		}
		setRange(buf, lo, hi, color)
	}
}

// Frame is one entry in a sequence document's frame list.
type Frame struct {
	HoldMs uint32  `json:"h"`
	Pixels []Pixel `json:"p"`
}

// Document is the root of the LED sequence JSON schema (spec §6).
type Document struct {
	Frames []Frame `json:"f"`
}

// ParseDocument decodes a sequence JSON document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SequenceHandler renders a parsed LED sequence document, advancing its
// frame cursor on a per-frame hold timer (spec §4.13).
type SequenceHandler struct {
	mu sync.Mutex

	doc           *Document
	curFrameIndex int
	nextDrawAt    timeutil.Tick
	drawnOnce     bool
}

// NewSequenceHandler creates an empty SequenceHandler; call Load before
// the first render.
func NewSequenceHandler() *SequenceHandler {
	return &SequenceHandler{}
}

// Load atomically swaps in a new parsed document and resets the cursor.
func (h *SequenceHandler) Load(doc *Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc = doc
	h.curFrameIndex = 0
	h.nextDrawAt = 0
	h.drawnOnce = false
}

// Render implements Handler.
func (h *SequenceHandler) Render(now timeutil.Tick, pixels []Color) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.doc == nil || len(h.doc.Frames) == 0 {
		return false
	}
	if h.drawnOnce && !timeutil.Expired(now, h.nextDrawAt) {
		return false
	}

	frame := h.doc.Frames[h.curFrameIndex]
	for _, p := range frame.Pixels {
		p.apply(pixels)
	}
	h.curFrameIndex = (h.curFrameIndex + 1) % len(h.doc.Frames)
	h.nextDrawAt = timeutil.Future(now, int64(frame.HoldMs))
	h.drawnOnce = true
	return true
}

// CustomSlot is the fixed index a BLE-transferred LED sequence document is
// installed to (spec §4.9.1's "install as custom LED sequence slot 0").
const CustomSlot = 0

// SequenceLibrary holds a fixed set of sequence documents — slot 0 is the
// BLE-installed custom sequence, the remaining slots are the badge's
// built-in sequences — and feeds the currently selected one into a
// SequenceHandler (spec §4.7's Next/PrevLedSequence cycling).
type SequenceLibrary struct {
	mu       sync.Mutex
	handler  *SequenceHandler
	docs     []*Document
	selected int
}

// NewSequenceLibrary creates a library. builtins are stored starting at
// slot 1; slot 0 starts empty until a custom sequence is installed.
func NewSequenceLibrary(handler *SequenceHandler, builtins []*Document) *SequenceLibrary {
	docs := make([]*Document, len(builtins)+1)
	copy(docs[1:], builtins)
	lib := &SequenceLibrary{handler: handler, docs: docs}
	lib.load()
	return lib
}

func (l *SequenceLibrary) load() {
	doc := l.docs[l.selected]
	if doc != nil {
		l.handler.Load(doc)
	}
}

// Cycle advances (forward) or retreats (!forward) the selected slot,
// skipping empty slots, and reloads the handler.
func (l *SequenceLibrary) Cycle(forward bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.docs)
	for i := 0; i < n; i++ {
		if forward {
			l.selected = (l.selected + 1) % n
		} else {
			l.selected = (l.selected - 1 + n) % n
		}
		if l.docs[l.selected] != nil {
			break
		}
	}
	l.load()
}

// InstallCustom parses data as a sequence document and installs it at
// CustomSlot, matching bleperipheral.FileHandlers.InstallLedSequence's
// signature exactly so it can be wired in directly.
func (l *SequenceLibrary) InstallCustom(data []byte) (int, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return 0, fmt.Errorf("led: parse custom sequence: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[CustomSlot] = doc
	if l.selected == CustomSlot {
		l.load()
	}
	return CustomSlot, nil
}

// Selected returns the currently selected slot index.
func (l *SequenceLibrary) Selected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}
