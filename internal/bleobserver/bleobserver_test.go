package bleobserver

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/peermap"
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

type fakeAdv struct {
	mfg     []byte
	svcData []struct {
		UUID string
		Data []byte
	}
	rssi int
}

func (a fakeAdv) ManufacturerData() []byte { return a.mfg }
func (a fakeAdv) ServiceData() []struct {
	UUID string
	Data []byte
} {
	return a.svcData
}
func (a fakeAdv) RSSI() int { return a.rssi }

type fakeScanHost struct {
	advs []Advertisement
}

func (h *fakeScanHost) Scan(ctx context.Context, duplicateFilter bool, handler func(Advertisement)) error {
	for _, a := range h.advs {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakePeripheral struct {
	enabled bool
	enableCalls int
}

func (p *fakePeripheral) IsServiceEnabled() bool { return p.enabled }
func (p *fakePeripheral) EnableWithoutNewPairID() error {
	p.enableCalls++
	p.enabled = true
	return nil
}

func encodePeerBeacon(badgeType byte, badgeID, eventID [8]byte) []byte {
	out := make([]byte, 19)
	out[0] = 0x37
	out[1] = 0x13
	out[2] = badgeType
	copy(out[3:11], badgeID[:])
	copy(out[11:19], eventID[:])
	return out
}

func TestPeerBeaconAdvertisementEmitsPeerHeartbeatDetected(t *testing.T) {
	b := newTestBus(t)
	badgeID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	eventID := [8]byte{16, 17, 18, 19, 20, 21, 22, 23}
	host := &fakeScanHost{advs: []Advertisement{
		fakeAdv{mfg: encodePeerBeacon(2, badgeID, eventID), rssi: -40},
	}}
	peripheral := &fakePeripheral{}

	received := make(chan peermap.Report, 1)
	b.Subscribe(bus.PeerHeartbeatDetected, func(p any) { received <- p.(peermap.Report) })

	o := New(newTestLogger(), b, host, peripheral, func() identity.ID { return identity.ID{} })
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	select {
	case r := <-received:
		assert.Equal(t, "AQIDBAUGBwg=", r.BadgeIDB64)
		assert.Equal(t, "EBESExQVFhc=", r.EventIDB64)
		assert.Equal(t, int16(-40), r.PeakRSSI)
		assert.Equal(t, uint8(2), r.BadgeType)
	case <-time.After(2 * time.Second):
		t.Fatal("expected PeerHeartbeatDetected")
	}
}

func TestServiceEnableAdvertisementTriggersWakeUpWhenNotEnabled(t *testing.T) {
	b := newTestBus(t)
	pairID := identity.ID{1, 2, 3, 4, 5, 6, 7, 8}
	reversed := pairID.Reversed()
	uuidHex := ""
	for _, x := range reversed {
		uuidHex += byteHex(x)
	}
	for i := 0; i < 6; i++ {
		uuidHex += "00"
	}
	uuidHex += "3813"

	host := &fakeScanHost{advs: []Advertisement{
		fakeAdv{svcData: []struct {
			UUID string
			Data []byte
		}{{UUID: uuidHex, Data: nil}}},
	}}
	peripheral := &fakePeripheral{}

	o := New(newTestLogger(), b, host, peripheral, func() identity.ID { return pairID })
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.Run(ctx)
	<-ctx.Done()

	require.Equal(t, 1, peripheral.enableCalls)
}

func TestServiceEnableSkippedWhenAlreadyEnabled(t *testing.T) {
	b := newTestBus(t)
	pairID := identity.ID{1, 2, 3, 4, 5, 6, 7, 8}
	host := &fakeScanHost{advs: []Advertisement{fakeAdv{}}}
	peripheral := &fakePeripheral{enabled: true}

	o := New(newTestLogger(), b, host, peripheral, func() identity.ID { return pairID })
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.Run(ctx)
	<-ctx.Done()

	assert.Equal(t, 0, peripheral.enableCalls)
}

func byteHex(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}
