package main

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/audio"
	"github.com/joehacksalot/badgecore/internal/led"
)

// nmcliStation implements internal/wifi.Station over the nmcli command-line
// tool. No Wi-Fi library appears anywhere in the retrieved pack (no go.mod
// lists one), so this shells out to the system network manager the way a
// headless Linux host actually joins a network — the same
// os/exec-wraps-a-system-tool shape cmd/blim's commands use for everything
// outside the BLE stack itself.
type nmcliStation struct {
	logger *logrus.Logger
}

func newNmcliStation(logger *logrus.Logger) *nmcliStation {
	return &nmcliStation{logger: logger}
}

func (s *nmcliStation) ScanForSSID(ctx context.Context, candidates []string) (string, bool) {
	out, err := exec.CommandContext(ctx, "nmcli", "-t", "-f", "SSID", "dev", "wifi", "list").Output()
	if err != nil {
		s.logger.WithError(err).Warn("wifi: nmcli scan failed")
		return "", false
	}
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		seen[strings.TrimSpace(line)] = struct{}{}
	}
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func (s *nmcliStation) Connect(ctx context.Context, ssid, password string) error {
	args := []string{"dev", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("wifi: nmcli connect %q: %w (%s)", ssid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *nmcliStation) Disconnect() error {
	if out, err := exec.Command("nmcli", "radio", "wifi", "off").CombinedOutput(); err != nil {
		return fmt.Errorf("wifi: nmcli disconnect: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// osClockSync implements internal/httpclient.ClockSync by shelling out to
// `date -s`, the same "wrap a system tool" shape nmcliStation uses for
// joining a network — no NTP/RTC-set library appears anywhere in the
// retrieved pack, and setting the kernel's wall clock is a one-line system
// command on a headless Linux host, not something worth a fabricated
// dependency.
type osClockSync struct {
	logger *logrus.Logger
}

func newOSClockSync(logger *logrus.Logger) *osClockSync {
	return &osClockSync{logger: logger}
}

func (s *osClockSync) SetSystemTime(t time.Time) error {
	out, err := exec.Command("date", "-s", t.UTC().Format(time.RFC3339)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("clocksync: date -s: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	s.logger.WithField("serverTime", t).Debug("clocksync: system clock adjusted from heartbeat response")
	return nil
}

// staticCredentials implements internal/wifi.CredentialSource from the
// compiled-in config and the persisted user settings record.
type staticCredentials struct {
	compiledSSID, compiledPassword string
	userSSID                       func() (string, string)
}

func (c staticCredentials) CompiledSSID() (string, string) {
	return c.compiledSSID, c.compiledPassword
}

func (c staticCredentials) UserSSID() (string, string) {
	return c.userSSID()
}

// gpioVibration implements internal/coordinator.VibrationDriver. No GPIO
// library is present anywhere in the retrieved pack; a real badge's motor
// driver is a single PWM/GPIO pin toggle, which this core has no concrete
// board-support package to call into (spec §1 puts hardware drivers out of
// scope), so this adapter logs the pulse it would have issued rather than
// inventing a sysfs GPIO path with no corpus grounding.
type gpioVibration struct {
	logger *logrus.Logger
}

func newGPIOVibration(logger *logrus.Logger) *gpioVibration {
	return &gpioVibration{logger: logger}
}

func (g *gpioVibration) Pulse(d time.Duration) error {
	g.logger.WithField("duration", d).Debug("vibration: pulse (no GPIO backend wired)")
	return nil
}

// logStrip implements internal/led.StripWriter by logging the frame instead
// of driving a real addressable-LED strip. No LED/NeoPixel driver library
// is present anywhere in the retrieved pack, and the spec puts the
// strip-level SPI/RMT driver itself out of scope (spec §1) — this keeps
// `run`/`scan` usable on a dev host while leaving a single seam
// (implementing led.StripWriter) for a real board-support package.
type logStrip struct {
	logger *logrus.Logger
}

func (s logStrip) WriteAll(pixels []led.Color) error {
	s.logger.WithField("pixels", len(pixels)).Trace("led: frame rendered (no strip backend wired)")
	return nil
}

// logTone implements internal/audio.ToneDriver the same way: out of scope
// per spec §1, no piezo/PWM driver in the retrieved pack.
type logTone struct {
	logger *logrus.Logger
}

func (t logTone) StartTone(freqHz int) error {
	t.logger.WithField("freqHz", freqHz).Trace("audio: tone started (no PWM backend wired)")
	return nil
}

func (t logTone) StopTone() error {
	t.logger.Trace("audio: tone stopped (no PWM backend wired)")
	return nil
}

// zeroTouchReader implements internal/touch.RawReader with a reading that
// never crosses the touch threshold, so `run` is safe to start on a dev
// host with no capacitive-touch ADC wired up. A real board-support package
// replaces this with the electrode ADC/QTouch driver (spec §1).
func zeroTouchReader(electrodeIndex int) (uint16, error) {
	return 0, nil
}

// equalTemperedFrequency implements audio.FrequencyTable over the 12-tone
// equal-tempered scale anchored at A4=440Hz, treating NoteName as a
// semitone offset from A4 (audio.NoteRest maps to silence). This replaces
// the firmware's fixed lookup table (Song.h's note-to-frequency array)
// with the formula it approximates, since the original table's exact
// values weren't part of the retrieved source.
func equalTemperedFrequency(note audio.NoteName) int {
	if note == audio.NoteRest {
		return 0
	}
	return int(math.Round(440.0 * math.Pow(2, float64(note)/12.0)))
}

// electrodeToFrequencyTable maps a touch electrode to a one-octave diatonic
// scale anchored at middle C, following Ocarina.c's one-note-per-electrode
// touch-to-tone design (spec §4.14).
func electrodeToFrequencyTable() audio.ElectrodeFrequencyTable {
	scale := []int{0, 2, 4, 5, 7, 9, 11, 12, 14}
	return func(electrodeIndex int) int {
		if electrodeIndex < 0 || electrodeIndex >= len(scale) {
			return 0
		}
		return equalTemperedFrequency(audio.NoteName(scale[electrodeIndex] - 9))
	}
}

// adcBattery implements internal/battery.Reader by reading a raw ADC
// channel exposed as a sysfs integer file, the common Linux-board pattern
// for a battery-sense voltage divider. Falls back to a fixed full-battery
// reading if the path doesn't exist, so `run`/`scan` stay usable on a dev
// host with no battery-sense hardware.
func adcBattery(logger *logrus.Logger, sysfsPath string) func() (uint16, error) {
	return func() (uint16, error) {
		out, err := exec.Command("cat", sysfsPath).Output()
		if err != nil {
			return 4096, nil
		}
		var raw uint16
		if _, scanErr := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &raw); scanErr != nil {
			return 4096, nil
		}
		return raw, nil
	}
}
