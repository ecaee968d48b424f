// Package httpclient implements the badge's HTTPS game-client: a capacity-
// bounded, dedup-by-kind request queue and background dispatcher that brings
// up Wi-Fi, posts a heartbeat, and parses the cloud response (spec §4.11).
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/peermap"
	"github.com/joehacksalot/badgecore/internal/store"
	"github.com/joehacksalot/badgecore/internal/wifi"
)

// Method is the HTTP method of a queued request.
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

// Kind identifies the request's purpose; only Heartbeat is implemented
// today, matching the original client's single live request type.
type Kind int

const (
	KindNone Kind = iota
	KindHeartbeat
)

// QueueCapacity bounds the number of distinct (Method,Kind) pending
// requests (spec §4.11's "MAX_PENDING_REQUESTS").
const QueueCapacity = 3

// WifiWaitTimeout is how long the dispatcher waits for Wi-Fi to come up
// before giving up on a dispatch pass.
const WifiWaitTimeout = 12 * time.Second

// RequestTimeout bounds a single HTTP round trip.
const RequestTimeout = 10 * time.Second

// RequestExpiry matches the original's "expire == wifi wait timeout" choice:
// a request that waited this long without being dispatched is dropped.
const RequestExpiry = WifiWaitTimeout

// DispatchPollInterval is how often the background task checks the queue.
const DispatchPollInterval = 100 * time.Millisecond

// DefaultHeartbeatPath is the relative path used to build the heartbeat URL
// against Client.BaseURL.
const DefaultHeartbeatPath = "/heartbeat"

// Request is one queued HTTP request.
type Request struct {
	Method   Method
	Kind     Kind
	Body     []byte
	WaitTime time.Duration
}

type queueItem struct {
	request  Request
	sendAt   time.Time
	expireAt time.Time
}

// queue is the capacity-bounded, dedup-by-(Method,Kind) pending request list
// (spec §4.11, grounded on HTTPGameClient.c's _RequestQueue_Enqueue).
type queue struct {
	mu    sync.Mutex
	items []queueItem
}

func (q *queue) enqueue(now time.Time, req Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sendAt := now.Add(req.WaitTime)
	expireAt := sendAt.Add(RequestExpiry)
	for i := range q.items {
		if q.items[i].request.Method == req.Method && q.items[i].request.Kind == req.Kind {
			q.items[i].request = req
			q.items[i].sendAt = sendAt
			q.items[i].expireAt = expireAt
			return nil
		}
	}
	if len(q.items) >= QueueCapacity {
		return fmt.Errorf("httpclient: request queue full (capacity %d)", QueueCapacity)
	}
	q.items = append(q.items, queueItem{request: req, sendAt: sendAt, expireAt: expireAt})
	return nil
}

func (q *queue) removeExpired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, it := range q.items {
		if now.Before(it.expireAt) {
			kept = append(kept, it)
		}
	}
	q.items = kept
}

// earliestSendAt returns the soonest pending send time, matching the
// original's "find the request item that has waited the longest" scan.
func (q *queue) earliestSendAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	earliest := q.items[0].sendAt
	for _, it := range q.items[1:] {
		if it.sendAt.Before(earliest) {
			earliest = it.sendAt
		}
	}
	return earliest, true
}

func (q *queue) drain() []queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WifiConnector is the port to the Wi-Fi connection-request state machine
// (internal/wifi.Client satisfies this without httpclient importing it
// concretely, mirroring the bleobserver/bleperipheral host-port idiom).
type WifiConnector interface {
	RequestConnect(waitMS uint32) wifi.State
	WaitForConnected(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// Doer is the HTTP transport port; production code uses *http.Client,
// tests substitute a fake or a real client pointed at an httptest/gin server.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeartbeatRequest is the payload assembled by internal/gamestate and
// carried on bus.WifiHeartbeatReadyToSend (spec §4.10/§4.11).
type HeartbeatRequest struct {
	BadgeIDB64         string
	KeyB64             string
	ProvisionKey       string
	EnrolledEventIDB64 string
	SongUnlockedBits   uint16
	PeerReports        []peermap.Report
	BadgeStats         store.BadgeStatsFile
	BatteryPercent     uint8
	BadgeType          uint8
	WaitTimeMs         uint32
}

type peerReportJSON struct {
	UUID      string `json:"uuid"`
	PeakRSSI  int16  `json:"peakRssi"`
	EventUUID string `json:"eventUuid"`
}

type statsJSON struct {
	NumPowerOns     uint32 `json:"numPowerOns"`
	NumTouches      uint32 `json:"numTouches"`
	NumTouchCmds    uint32 `json:"numTouchCmds"`
	NumLedCycles    uint32 `json:"numLedCycles"`
	NumBattChecks   uint32 `json:"numBattChecks"`
	NumBleEnables   uint32 `json:"numBleEnables"`
	NumBleDisables  uint32 `json:"numBleDisables"`
	NumBleSeqXfers  uint32 `json:"numBleSeqXfers"`
	NumBleSetXfers  uint32 `json:"numBleSetXfers"`
	NumUartInputs   uint32 `json:"numUartInputs"`
	NumNetworkTests uint32 `json:"numNetworkTests"`
	NumBattery      uint8  `json:"numBattery"`
	Timestamp       int64  `json:"timestamp"`
}

type heartbeatRequestJSON struct {
	UUID             string           `json:"uuid"`
	Key              string           `json:"key"`
	ProvisionKey     string           `json:"provisionKey"`
	PeerReport       []peerReportJSON `json:"peerReport"`
	EnrolledEvent    string           `json:"enrolledEvent"`
	BadgeRequestTime int64            `json:"badgeRequestTime"`
	BadgeType        string           `json:"badgeType"`
	Songs            []int            `json:"songs"`
	Stats            statsJSON        `json:"stats"`
}

// MarshalHeartbeat renders req into the wire JSON body the cloud game server
// expects, matching HTTPGameClient.c's HEARTBEAT_JSON_TEMPLATE field-for-field.
func MarshalHeartbeat(req HeartbeatRequest, now time.Time) ([]byte, error) {
	peers := make([]peerReportJSON, 0, len(req.PeerReports))
	for _, p := range req.PeerReports {
		peers = append(peers, peerReportJSON{UUID: p.BadgeIDB64, PeakRSSI: p.PeakRSSI, EventUUID: p.EventIDB64})
	}
	songs := make([]int, 0)
	for i := 0; i < 16; i++ {
		if req.SongUnlockedBits&(1<<uint(i)) != 0 {
			songs = append(songs, i+1)
		}
	}
	body := heartbeatRequestJSON{
		UUID:             req.BadgeIDB64,
		Key:              req.KeyB64,
		ProvisionKey:     req.ProvisionKey,
		PeerReport:       peers,
		EnrolledEvent:    req.EnrolledEventIDB64,
		BadgeRequestTime: now.UnixMilli(),
		BadgeType:        fmt.Sprintf("%d", req.BadgeType),
		Songs:            songs,
		Stats: statsJSON{
			NumPowerOns:     req.BadgeStats.NumPowerOns,
			NumTouches:      req.BadgeStats.NumTouches,
			NumTouchCmds:    req.BadgeStats.NumTouchCmds,
			NumLedCycles:    req.BadgeStats.NumLedCycles,
			NumBattChecks:   req.BadgeStats.NumBattChecks,
			NumBleEnables:   req.BadgeStats.NumBleEnables,
			NumBleDisables:  req.BadgeStats.NumBleDisables,
			NumBleSeqXfers:  req.BadgeStats.NumBleSeqXfers,
			NumBleSetXfers:  req.BadgeStats.NumBleSetXfers,
			NumUartInputs:   req.BadgeStats.NumUartInputs,
			NumNetworkTests: req.BadgeStats.NumNetworkTests,
			NumBattery:      req.BatteryPercent,
			Timestamp:       now.Unix(),
		},
	}
	return json.Marshal(body)
}

type heartbeatEventJSON struct {
	Event       string  `json:"event" validate:"omitempty,max=13"`
	StoneColor  int     `json:"stoneColor" validate:"omitempty,min=1,max=6"`
	Power       float64 `json:"power" validate:"gte=0,lte=100"`
	MsRemaining float64 `json:"msRemaining" validate:"gte=0"`
}

type serverTimeJSON struct {
	TvSec  int64 `json:"tv_sec"`
	TvNsec int64 `json:"tv_nsec"`
}

type heartbeatResponseJSON struct {
	Stones             []int               `json:"stones"`
	Songs              []int               `json:"songs"`
	Event              *heartbeatEventJSON `json:"event"`
	BadgeRequestTime   int64               `json:"badgeRequestTime"`
	ServerResponseTime *serverTimeJSON     `json:"serverResponseTime"`
}

// ParseHeartbeatResponse decodes the cloud server's JSON body into a
// GameStatusData plus the server's reported wall-clock time, half-RTT
// adjusted as HTTPGameClient.c's _ParseJsonResponseString does:
// serverTime + (now-sentAt)/2.
func ParseHeartbeatResponse(data []byte, sentAt, receivedAt time.Time, validate *validator.Validate) (store.GameStatusData, time.Time, error) {
	var body heartbeatResponseJSON
	if err := json.Unmarshal(data, &body); err != nil {
		return store.GameStatusData{}, time.Time{}, fmt.Errorf("httpclient: decode heartbeat response: %w", err)
	}

	var status store.GameStatusData
	for _, stone := range body.Stones {
		if stone >= 1 && stone <= 6 {
			status.StoneBits |= 1 << uint(stone-1)
		}
	}
	for _, song := range body.Songs {
		if song >= 1 && song <= 16 {
			status.SongUnlockedBits |= 1 << uint(song-1)
		}
	}

	if body.Event != nil {
		status.Event.EventIDB64 = body.Event.Event
		color := body.Event.StoneColor - 1
		if color >= 0 && color <= int(store.ColorMagenta) {
			status.Event.Color = store.EventColor(color)
		}
		status.Event.PowerLevel = uint8(body.Event.Power)
		status.Event.MsRemaining = uint32(body.Event.MsRemaining)
	}

	var serverTime time.Time
	if body.ServerResponseTime != nil {
		halfRTT := receivedAt.Sub(sentAt) / 2
		serverTime = time.Unix(body.ServerResponseTime.TvSec, body.ServerResponseTime.TvNsec*int64(time.Nanosecond)).Add(halfRTT)
	}

	if validate != nil {
		if err := validate.Struct(body); err != nil {
			return status, serverTime, fmt.Errorf("httpclient: heartbeat response validation: %w", err)
		}
	}
	return status, serverTime, nil
}

// ClockSync applies the half-RTT-adjusted server time a heartbeat response
// carries to the system clock (spec §4.11). A nil ClockSync is valid:
// Client then skips the adjustment.
type ClockSync interface {
	SetSystemTime(t time.Time) error
}

// Client is the HTTPS game client: queue + dispatcher (spec §4.11).
type Client struct {
	logger    *logrus.Logger
	bus       *bus.Bus
	wifi      WifiConnector
	doer      Doer
	validate  *validator.Validate
	clockSync ClockSync

	baseURL      string
	provisionKey string

	queue queue

	nowFn func() time.Time
}

// New creates a Client. provisionKey is injected rather than carrying
// forward the original firmware's hardcoded value (see DESIGN.md). clockSync
// may be nil, in which case the heartbeat's server-time adjustment is
// computed but never applied.
func New(logger *logrus.Logger, b *bus.Bus, wifi WifiConnector, doer Doer, baseURL, provisionKey string, clockSync ClockSync) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: RequestTimeout}
	}
	return &Client{
		logger: logger, bus: b, wifi: wifi, doer: doer,
		baseURL: baseURL, provisionKey: provisionKey,
		validate:  validator.New(),
		clockSync: clockSync,
		nowFn:     time.Now,
	}
}

// Enqueue queues req for dispatch (spec §4.11).
func (c *Client) Enqueue(req Request) error {
	return c.queue.enqueue(c.nowFn(), req)
}

// EnqueueHeartbeat builds and queues a heartbeat request from hb.
func (c *Client) EnqueueHeartbeat(hb HeartbeatRequest) error {
	hb.ProvisionKey = c.provisionKey
	body, err := MarshalHeartbeat(hb, c.nowFn())
	if err != nil {
		return err
	}
	return c.Enqueue(Request{Method: MethodPost, Kind: KindHeartbeat, Body: body, WaitTime: time.Duration(hb.WaitTimeMs) * time.Millisecond})
}

// Run launches the background dispatch task and the
// WifiHeartbeatReadyToSend subscriber (spec §5).
func (c *Client) Run(ctx context.Context) {
	c.bus.Subscribe(bus.WifiHeartbeatReadyToSend, func(p any) {
		hb, ok := p.(HeartbeatRequest)
		if !ok {
			c.logger.Warn("httpclient: unexpected WifiHeartbeatReadyToSend payload type")
			return
		}
		if err := c.EnqueueHeartbeat(hb); err != nil {
			c.logger.WithError(err).Warn("httpclient: failed to enqueue heartbeat")
		}
	})

	go func() {
		ticker := time.NewTicker(DispatchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

func (c *Client) tick(ctx context.Context) {
	now := c.nowFn()
	c.queue.removeExpired(now)

	sendAt, ok := c.queue.earliestSendAt()
	if !ok {
		return
	}

	waitMS := uint32(0)
	if sendAt.After(now) {
		waitMS = uint32(sendAt.Sub(now).Milliseconds())
	}
	c.wifi.RequestConnect(waitMS)
	defer func() {
		if err := c.wifi.Disconnect(); err != nil {
			c.logger.WithError(err).Warn("httpclient: wifi disconnect failed")
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(waitMS)*time.Millisecond+WifiWaitTimeout)
	defer cancel()
	if err := c.wifi.WaitForConnected(waitCtx); err != nil || !c.wifi.IsConnected() {
		c.logger.Warn("httpclient: wifi did not connect in time, dropping queued requests")
		c.queue.drain()
		return
	}

	for _, item := range c.queue.drain() {
		c.dispatch(ctx, item)
	}
}

func (c *Client) dispatch(ctx context.Context, item queueItem) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	url := c.baseURL + c.pathFor(item.request.Kind)
	httpMethod := "GET"
	var bodyReader io.Reader
	if item.request.Method == MethodPost {
		httpMethod = "POST"
		bodyReader = bytes.NewReader(item.request.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, httpMethod, url, bodyReader)
	if err != nil {
		c.logger.WithError(err).Warn("httpclient: building request failed")
		return
	}
	if item.request.Method == MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	sentAt := c.nowFn()
	resp, err := c.doer.Do(httpReq)
	receivedAt := c.nowFn()
	if err != nil {
		c.logger.WithError(err).Warn("httpclient: request failed")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.WithError(err).Warn("httpclient: reading response failed")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithField("status", resp.StatusCode).Warn("httpclient: non-2xx response")
		return
	}
	if len(respBody) == 0 {
		return
	}

	switch item.request.Kind {
	case KindHeartbeat:
		c.handleHeartbeatResponse(respBody, sentAt, receivedAt)
	default:
		c.logger.Warn("httpclient: unexpected response kind")
	}
}

func (c *Client) handleHeartbeatResponse(body []byte, sentAt, receivedAt time.Time) {
	status, serverTime, err := ParseHeartbeatResponse(body, sentAt, receivedAt, c.validate)
	if err != nil {
		c.logger.WithError(err).Warn("httpclient: failed to parse heartbeat response")
		return
	}
	if c.clockSync != nil && !serverTime.IsZero() {
		if syncErr := c.clockSync.SetSystemTime(serverTime); syncErr != nil {
			c.logger.WithError(syncErr).Warn("httpclient: system clock sync failed")
		}
	}
	if notifyErr := c.bus.Notify(bus.WifiHeartbeatResponseReceived, status, bus.DefaultNotifyTimeout); notifyErr != nil {
		c.logger.WithError(notifyErr).Warn("httpclient: notify failed")
	}
}

func (c *Client) pathFor(kind Kind) string {
	switch kind {
	case KindHeartbeat:
		return DefaultHeartbeatPath
	default:
		return ""
	}
}
