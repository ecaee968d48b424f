// Package wifi implements the badge's Wi-Fi client state machine: a
// reference-counted connect/disconnect request model with a shared
// connecting/connected state (spec §4.12).
package wifi

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/timeutil"
)

// State is the client's current connection phase.
type State int

const (
	Unknown State = iota
	Disconnected
	Waiting
	Attempting
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Waiting:
		return "Waiting"
	case Attempting:
		return "Attempting"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MaxRetries bounds automatic reconnect attempts after an unexpected
// disconnect (spec §4.12's "MAX_RETRIES"; the original firmware's value
// was not present in the retrieved source, so this is a documented choice —
// see DESIGN.md Open Question decisions).
const MaxRetries = 5

// ConnectPeriod is the periodic task's polling interval for an expired
// desired-start deadline.
const ConnectPeriod = 200 * time.Millisecond

// Station is the hardware-facing port: SSID scan plus station start/stop.
// Out of scope per spec §1.
type Station interface {
	// ScanForSSID reports whether any of candidates was seen in a scan,
	// returning the first match (candidates tried in order).
	ScanForSSID(ctx context.Context, candidates []string) (ssid string, found bool)
	Connect(ctx context.Context, ssid, password string) error
	Disconnect() error
}

// CredentialSource supplies the user-configured SSID/password alongside
// the compiled-in fallback SSID (spec §4.12: "matches against a compiled-in
// SSID and the user-settings SSID, the first match wins").
type CredentialSource interface {
	CompiledSSID() (ssid, password string)
	UserSSID() (ssid, password string)
}

// Client is the Wi-Fi connection-request state machine.
type Client struct {
	logger  *logrus.Logger
	bus     *bus.Bus
	clock   timeutil.Clock
	station Station
	creds   CredentialSource

	mu              sync.Mutex
	state           State
	numClients      int32
	desiredStart    timeutil.Tick
	pending         bool
	retryCount      int
	connectedCh     chan struct{}
	disconnectedCh  chan struct{}
}

// New creates a Client in the Disconnected state.
func New(logger *logrus.Logger, b *bus.Bus, clock timeutil.Clock, station Station, creds CredentialSource) *Client {
	return &Client{
		logger: logger, bus: b, clock: clock, station: station, creds: creds,
		state: Disconnected,
	}
}

// GetState returns the current state without blocking.
func (c *Client) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Enable immediately attempts a connection without reference counting; it
// does not automatically disconnect — the caller (the OTA-update
// collaborator) must call Disconnect itself when done. Prefer RequestConnect
// for managed, multi-client Wi-Fi use (spec §4.12).
func (c *Client) Enable(ctx context.Context) State {
	c.mu.Lock()
	already := c.state == Connecting || c.state == Connected
	c.mu.Unlock()
	if already {
		return c.GetState()
	}
	c.attemptConnect(ctx)
	return c.GetState()
}

// RequestConnect increments the client reference count and arms a desired
// start time `now + waitMS` (or immediately, if waitMS==0). A shorter
// request shortens an already-pending desired start (spec §4.12).
func (c *Client) RequestConnect(waitMS uint32) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.numClients++
	if c.state == Connecting || c.state == Connected {
		return c.state
	}

	desired := timeutil.Future(c.clock.Now(), int64(waitMS))
	if !c.pending || desired < c.desiredStart {
		c.desiredStart = desired
		c.pending = true
	}
	c.state = Waiting
	return c.state
}

// Disconnect decrements the client reference count; at zero, it stops the
// station (spec §4.12).
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.numClients--
	shouldStop := c.numClients <= 0
	c.mu.Unlock()

	if !shouldStop {
		return nil
	}
	err := c.station.Disconnect()
	c.mu.Lock()
	c.numClients = 0
	c.state = Disconnected
	c.pending = false
	c.mu.Unlock()
	if err := c.bus.Notify(bus.WifiDisconnected, nil, bus.DefaultNotifyTimeout); err != nil {
		c.logger.WithError(err).Warn("wifi: notify failed")
	}
	return err
}

// WaitForConnected blocks until the client reaches Connected (nil),
// Disconnected or Failed (context.Canceled), or ctx is canceled (ctx.Err()).
func (c *Client) WaitForConnected(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Connected {
		return nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			switch c.GetState() {
			case Connected:
				return nil
			case Disconnected, Failed:
				return context.Canceled
			}
		}
	}
}

// TestConnect issues a zero-wait connect request, waits for the outcome,
// emits NetworkTestComplete, then disconnects (spec §4.12).
func (c *Client) TestConnect(ctx context.Context) {
	c.RequestConnect(0)
	err := c.WaitForConnected(ctx)
	success := err == nil
	if notifyErr := c.bus.Notify(bus.NetworkTestComplete, success, bus.DefaultNotifyTimeout); notifyErr != nil {
		c.logger.WithError(notifyErr).Warn("wifi: notify failed")
	}
	_ = c.Disconnect()
}

// Run launches the periodic task that triggers a connect attempt once the
// desired start time expires (spec §4.12, §5).
func (c *Client) Run(ctx context.Context) {
	groutine.Go(ctx, "wifi-client", func(ctx context.Context) {
		ticker := time.NewTicker(ConnectPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	})
}

func (c *Client) tick(ctx context.Context) {
	c.mu.Lock()
	ready := c.pending && timeutil.Expired(c.clock.Now(), c.desiredStart)
	c.mu.Unlock()
	if !ready {
		return
	}
	c.attemptConnect(ctx)
}

func (c *Client) attemptConnect(ctx context.Context) {
	c.mu.Lock()
	c.pending = false
	c.state = Attempting
	c.mu.Unlock()

	compiledSSID, compiledPass := c.creds.CompiledSSID()
	userSSID, userPass := c.creds.UserSSID()
	candidates := []string{compiledSSID, userSSID}
	ssid, found := c.station.ScanForSSID(ctx, candidates)
	if !found {
		c.setState(Failed)
		return
	}
	pass := compiledPass
	if ssid == userSSID {
		pass = userPass
	}

	c.setState(Connecting)
	if err := c.station.Connect(ctx, ssid, pass); err != nil {
		c.logger.WithError(err).Warn("wifi: connect failed")
		c.setState(Failed)
		return
	}
	c.setState(Connected)
	c.mu.Lock()
	c.retryCount = 0
	c.mu.Unlock()
	if err := c.bus.Notify(bus.WifiConnected, nil, bus.DefaultNotifyTimeout); err != nil {
		c.logger.WithError(err).Warn("wifi: notify failed")
	}
}

// HandleUnexpectedDisconnect is called by the station adapter's event
// handler when the link drops outside a requested Disconnect. It retries
// up to MaxRetries times before settling into Failed (spec §4.12).
func (c *Client) HandleUnexpectedDisconnect(ctx context.Context) {
	c.mu.Lock()
	c.retryCount++
	retry := c.retryCount <= MaxRetries
	c.mu.Unlock()

	if !retry {
		c.setState(Failed)
		return
	}
	c.attemptConnect(ctx)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
