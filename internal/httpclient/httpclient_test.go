package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/peermap"
	"github.com/joehacksalot/badgecore/internal/store"
	"github.com/joehacksalot/badgecore/internal/wifi"
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

type fakeWifi struct {
	mu          sync.Mutex
	connected   bool
	connectCall int
	disconnects int
}

func (w *fakeWifi) RequestConnect(waitMS uint32) wifi.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connectCall++
	w.connected = true
	return wifi.Connected
}
func (w *fakeWifi) WaitForConnected(ctx context.Context) error { return nil }
func (w *fakeWifi) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnects++
	w.connected = false
	return nil
}
func (w *fakeWifi) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func TestQueueDedupesByMethodAndKind(t *testing.T) {
	var q queue
	now := time.Now()
	require.NoError(t, q.enqueue(now, Request{Method: MethodPost, Kind: KindHeartbeat, Body: []byte("a")}))
	require.NoError(t, q.enqueue(now, Request{Method: MethodPost, Kind: KindHeartbeat, Body: []byte("b")}))
	assert.Equal(t, 1, q.len())
	items := q.drain()
	assert.Equal(t, []byte("b"), items[0].request.Body)
}

func TestQueueRejectsBeyondCapacity(t *testing.T) {
	var q queue
	now := time.Now()
	for i := 0; i < QueueCapacity; i++ {
		require.NoError(t, q.enqueue(now, Request{Method: MethodPost, Kind: Kind(i + 1)}))
	}
	err := q.enqueue(now, Request{Method: MethodGet, Kind: Kind(99)})
	assert.Error(t, err)
}

func TestQueueRemoveExpiredPrunesStale(t *testing.T) {
	var q queue
	now := time.Now()
	require.NoError(t, q.enqueue(now, Request{Method: MethodPost, Kind: KindHeartbeat}))
	q.removeExpired(now.Add(RequestExpiry + time.Second))
	assert.Equal(t, 0, q.len())
}

func TestMarshalHeartbeatMatchesExpectedShape(t *testing.T) {
	req := HeartbeatRequest{
		BadgeIDB64:         "YmFkZ2UxMjM0",
		KeyB64:             "a2V5MTIzNDU2",
		EnrolledEventIDB64: "ZXZlbnQxMjM0",
		SongUnlockedBits:   0b101,
		PeerReports:        []peermap.Report{{BadgeIDB64: "cGVlcjE=", EventIDB64: "ZXZlbnQxMjM0", PeakRSSI: -50, BadgeType: 1}},
		BadgeStats:         store.BadgeStatsFile{NumPowerOns: 4},
		BatteryPercent:     80,
		BadgeType:          2,
	}
	data, err := MarshalHeartbeat(req, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"uuid":"YmFkZ2UxMjM0"`)
	assert.Contains(t, string(data), `"songs":[1,3]`)
	assert.Contains(t, string(data), `"numPowerOns":4`)
}

func TestParseHeartbeatResponseAppliesHalfRTTClockAdjustment(t *testing.T) {
	body := []byte(`{"stones":[1],"songs":[5,2],"event":{"event":"QlgVrlHvkZs=","stoneColor":3,"power":64,"msRemaining":304000},"badgeRequestTime":7429,"serverResponseTime":{"tv_sec":1000,"tv_nsec":0}}`)
	sentAt := time.Unix(0, 0)
	receivedAt := sentAt.Add(200 * time.Millisecond)

	status, serverTime, err := ParseHeartbeatResponse(body, sentAt, receivedAt, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), status.StoneBits)
	assert.Equal(t, uint16(0b10010), status.SongUnlockedBits)
	assert.Equal(t, "QlgVrlHvkZs=", status.Event.EventIDB64)
	assert.Equal(t, store.ColorGreen, status.Event.Color)
	assert.Equal(t, uint32(304000), status.Event.MsRemaining)
	assert.Equal(t, time.Unix(1000, 0).Add(100*time.Millisecond), serverTime)
}

func TestClientDispatchesHeartbeatAgainstRealServerAndEmitsResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/heartbeat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stones": []int{1, 2},
			"songs":  []int{1},
			"event": gin.H{
				"event":       "AAAAAAAAAAA=",
				"stoneColor":  1,
				"power":       50,
				"msRemaining": 0,
			},
			"badgeRequestTime": 123,
			"serverResponseTime": gin.H{
				"tv_sec":  1700000000,
				"tv_nsec": 0,
			},
		})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	b := newTestBus(t)
	w := &fakeWifi{}
	sync := &fakeClockSync{}
	c := New(newTestLogger(), b, w, server.Client(), server.URL, "", sync)

	received := make(chan store.GameStatusData, 1)
	b.Subscribe(bus.WifiHeartbeatResponseReceived, func(p any) { received <- p.(store.GameStatusData) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Run(ctx)

	require.NoError(t, b.Notify(bus.WifiHeartbeatReadyToSend, HeartbeatRequest{
		BadgeIDB64: "YmFkZ2UxMjM0", KeyB64: "a2V5MTIzNDU2", BadgeType: 1,
	}, bus.DefaultNotifyTimeout))

	select {
	case status := <-received:
		assert.Equal(t, uint8(0b11), status.StoneBits)
		assert.Equal(t, uint16(1), status.SongUnlockedBits)
	case <-time.After(3 * time.Second):
		t.Fatal("expected WifiHeartbeatResponseReceived")
	}
	assert.GreaterOrEqual(t, w.connectCall, 1)
	assert.GreaterOrEqual(t, w.disconnects, 1)

	sync.mu.Lock()
	defer sync.mu.Unlock()
	require.Len(t, sync.calls, 1)
	assert.Equal(t, int64(1700000000), sync.calls[0].Unix())
}

type fakeClockSync struct {
	mu    sync.Mutex
	calls []time.Time
}

func (f *fakeClockSync) SetSystemTime(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t)
	return nil
}
