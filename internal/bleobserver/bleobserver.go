// Package bleobserver implements the badge's passive BLE scan parser: it
// turns raw advertisements into peer-report events and paired-peer
// remote-wake-up requests (spec §4.8).
package bleobserver

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/blewire"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/peermap"
)

// Advertisement is the subset of a scanned BLE advertisement the observer
// needs, matching the shape of srgg-blecli's device.Advertisement port so
// the same scan-host adapters can serve both.
type Advertisement interface {
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}
	RSSI() int
}

// ScanHost performs a passive BLE scan, invoking handler for every
// advertisement observed, until ctx is canceled (spec §4.8: "runs
// indefinitely").
type ScanHost interface {
	Scan(ctx context.Context, duplicateFilter bool, handler func(Advertisement)) error
}

// PeripheralEnabler requests the peripheral service be enabled without a
// fresh pair id, for the paired-peer remote wake-up case (spec §4.8).
type PeripheralEnabler interface {
	IsServiceEnabled() bool
	EnableWithoutNewPairID() error
}

// Observer runs the passive scan and dispatches PeerHeartbeatDetected
// events plus paired-peer wake-up requests.
type Observer struct {
	logger     *logrus.Logger
	bus        *bus.Bus
	host       ScanHost
	peripheral PeripheralEnabler
	pairID     func() identity.ID
}

// New creates an Observer. pairID returns the badge's current pair id,
// queried fresh on every advertisement since it may change mid-run (e.g.
// after a file-transfer config frame updates it).
func New(logger *logrus.Logger, b *bus.Bus, host ScanHost, peripheral PeripheralEnabler, pairID func() identity.ID) *Observer {
	return &Observer{logger: logger, bus: b, host: host, peripheral: peripheral, pairID: pairID}
}

// Run launches the passive-scan task (spec §5).
func (o *Observer) Run(ctx context.Context) {
	groutine.Go(ctx, "ble-observer", func(ctx context.Context) {
		if err := o.host.Scan(ctx, false, o.handleAdvertisement); err != nil && ctx.Err() == nil {
			o.logger.WithError(err).Warn("bleobserver: scan failed")
		}
	})
}

func (o *Observer) handleAdvertisement(adv Advertisement) {
	if o.tryPeerBeacon(adv) {
		return
	}
	o.tryServiceEnable(adv)
}

func (o *Observer) tryPeerBeacon(adv Advertisement) bool {
	beacon, ok := blewire.ParsePeerBeacon(adv.ManufacturerData())
	if !ok {
		return false
	}
	report := peermap.Report{
		BadgeIDB64: beacon.BadgeID.Base64(),
		EventIDB64: beacon.EventID.Base64(),
		PeakRSSI:   int16(adv.RSSI()),
		BadgeType:  uint8(beacon.BadgeType),
	}
	if err := o.bus.Notify(bus.PeerHeartbeatDetected, report, bus.DefaultNotifyTimeout); err != nil {
		o.logger.WithError(err).Warn("bleobserver: notify failed")
	}
	return true
}

func (o *Observer) tryServiceEnable(adv Advertisement) bool {
	if o.peripheral.IsServiceEnabled() {
		return false
	}
	pairID := o.pairID()
	for _, sd := range adv.ServiceData() {
		if blewire.MatchesServiceEnable(sd.UUID, pairID) {
			if err := o.peripheral.EnableWithoutNewPairID(); err != nil {
				o.logger.WithError(err).Warn("bleobserver: paired-peer wake-up enable failed")
			}
			return true
		}
	}
	return false
}
