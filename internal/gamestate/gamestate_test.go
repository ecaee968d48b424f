package gamestate

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/httpclient"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/peermap"
	"github.com/joehacksalot/badgecore/internal/store"
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

type fakeBattery struct{ percent int }

func (f fakeBattery) Percent() int { return f.percent }

type fakeAudio struct{ played []int }

func (f *fakeAudio) PlaySong(songIndex int) error {
	f.played = append(f.played, songIndex)
	return nil
}

func newManager(t *testing.T) (*Manager, *bus.Bus, *store.GameStatus, *fakeAudio) {
	t.Helper()
	b := newTestBus(t)
	status := store.NewGameStatus(newTestLogger(), t.TempDir()+"/game_status.dat", noopBattery{})
	stats := store.NewBadgeStats(newTestLogger(), t.TempDir()+"/badge_stats.dat", noopBattery{})
	audioFake := &fakeAudio{}
	badgeID, err := identity.ParseID("YmFkZ2UxMjM=")
	require.NoError(t, err)
	key, err := identity.ParseID("bXlrZXkxMjM=")
	require.NoError(t, err)
	m := New(newTestLogger(), b, status, stats, fakeBattery{percent: 75}, audioFake, badgeID, key, 2)
	m.now = time.Now
	return m, b, status, audioFake
}

type noopBattery struct{}

func (noopBattery) Percent() int { return 100 }

func TestSendHeartbeatImmediatelyOnSendHeartbeatEvent(t *testing.T) {
	m, b, _, _ := newManager(t)
	ready := make(chan httpclient.HeartbeatRequest, 1)
	b.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) { ready <- p.(httpclient.HeartbeatRequest) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.SendHeartbeat, nil, bus.DefaultNotifyTimeout))

	select {
	case req := <-ready:
		assert.Equal(t, "YmFkZ2UxMjM=", req.BadgeIDB64)
		assert.Equal(t, uint8(2), req.BadgeType)
		assert.Equal(t, uint8(75), req.BatteryPercent)
	case <-time.After(2 * time.Second):
		t.Fatal("expected heartbeat to be sent immediately")
	}
}

func TestPeerHeartbeatNewEventTriggersImmediateHeartbeatWhenNotInEvent(t *testing.T) {
	m, b, _, _ := newManager(t)
	ready := make(chan httpclient.HeartbeatRequest, 1)
	b.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) { ready <- p.(httpclient.HeartbeatRequest) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.PeerHeartbeatDetected, peermap.Report{
		BadgeIDB64: "cGVlcjE=", EventIDB64: "ZXZlbnQxMjM=", PeakRSSI: -40, BadgeType: 1,
	}, bus.DefaultNotifyTimeout))

	select {
	case req := <-ready:
		require.Len(t, req.PeerReports, 1)
		assert.Equal(t, "cGVlcjE=", req.PeerReports[0].BadgeIDB64)
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate heartbeat triggered by new peer event sighting")
	}
}

func TestPeerHeartbeatBlankEventDoesNotTriggerImmediateHeartbeat(t *testing.T) {
	m, b, _, _ := newManager(t)
	ready := make(chan httpclient.HeartbeatRequest, 1)
	b.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) { ready <- p.(httpclient.HeartbeatRequest) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.PeerHeartbeatDetected, peermap.Report{
		BadgeIDB64: "cGVlcjE=", EventIDB64: "", PeakRSSI: -40,
	}, bus.DefaultNotifyTimeout))

	select {
	case <-ready:
		t.Fatal("blank event id must not trigger an immediate heartbeat")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestApplyStatusEmitsGameEventJoinedOnTransitionIntoEvent(t *testing.T) {
	m, b, status, _ := newManager(t)
	joined := make(chan any, 1)
	b.Subscribe(bus.GameEventJoined, func(p any) { joined <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.WifiHeartbeatResponseReceived, store.GameStatusData{
		Event: store.EventStatus{EventIDB64: "ZXZlbnQxMjM0", Color: store.ColorGreen, MsRemaining: 60000},
	}, bus.DefaultNotifyTimeout))

	select {
	case p := <-joined:
		assert.Equal(t, "ZXZlbnQxMjM0", p)
	case <-time.After(2 * time.Second):
		t.Fatal("expected GameEventJoined")
	}
	assert.True(t, status.Snapshot().InEvent())
}

func TestApplyStatusEmitsGameEventEndedOnTransitionOutOfEvent(t *testing.T) {
	m, b, status, _ := newManager(t)
	ended := make(chan struct{}, 1)
	b.Subscribe(bus.GameEventEnded, func(any) { ended <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.WifiHeartbeatResponseReceived, store.GameStatusData{
		Event: store.EventStatus{EventIDB64: "ZXZlbnQxMjM0", MsRemaining: 60000},
	}, bus.DefaultNotifyTimeout))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, b.Notify(bus.WifiHeartbeatResponseReceived, store.GameStatusData{}, bus.DefaultNotifyTimeout))

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("expected GameEventEnded")
	}
	assert.False(t, status.Snapshot().InEvent())
}

func TestOcarinaSongMatchedUnlocksPlaysSecretSoundAndTriggersHeartbeat(t *testing.T) {
	m, b, status, audioFake := newManager(t)
	ready := make(chan httpclient.HeartbeatRequest, 1)
	b.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) { ready <- p.(httpclient.HeartbeatRequest) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.OcarinaSongMatched, 3, bus.DefaultNotifyTimeout))

	select {
	case req := <-ready:
		assert.Equal(t, uint16(1<<3), req.SongUnlockedBits)
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate heartbeat after song unlock")
	}
	require.Len(t, audioFake.played, 1)
	assert.Equal(t, 0, audioFake.played[0])
	assert.True(t, status.Snapshot().SongUnlockedBits&(1<<3) != 0)
}

func TestOcarinaSongMatchedAlreadyUnlockedDoesNotReplaySoundOrHeartbeat(t *testing.T) {
	m, b, status, audioFake := newManager(t)
	status.SetSongUnlocked(3)
	ready := make(chan httpclient.HeartbeatRequest, 1)
	b.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) { ready <- p.(httpclient.HeartbeatRequest) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	require.NoError(t, b.Notify(bus.OcarinaSongMatched, 3, bus.DefaultNotifyTimeout))

	select {
	case <-ready:
		t.Fatal("re-matching an already-unlocked song must not trigger a heartbeat")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, audioFake.played)
}
