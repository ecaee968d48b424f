package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joehacksalot/badgecore/internal/battery"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/config"
	"github.com/joehacksalot/badgecore/internal/gamestate"
	"github.com/joehacksalot/badgecore/internal/httpclient"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/store"
	"github.com/joehacksalot/badgecore/internal/timeutil"
	"github.com/joehacksalot/badgecore/internal/wifi"
)

var (
	heartbeatStoreDir      string
	heartbeatGameServerURL string
	heartbeatProvisionKey  string
	heartbeatBadgeVariant  uint8
	heartbeatTimeout       time.Duration
)

// heartbeatCmd forces an immediate heartbeat dispatch against the cloud
// game server, for manual testing of the enrollment/event-join path without
// waiting for the scheduled interval (spec §4.10, §4.11).
var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Force an immediate heartbeat dispatch",
	RunE:  runHeartbeat,
}

func init() {
	heartbeatCmd.Flags().StringVar(&heartbeatStoreDir, "store-dir", "/var/lib/badgecore", "Directory for persisted records")
	heartbeatCmd.Flags().StringVar(&heartbeatGameServerURL, "game-server", "https://game.badgecore.example", "Cloud game server base URL")
	heartbeatCmd.Flags().StringVar(&heartbeatProvisionKey, "provision-key", "", "Badge provisioning key")
	heartbeatCmd.Flags().Uint8Var(&heartbeatBadgeVariant, "variant", 1, "Badge hardware variant (1=Tron, 2=Reactor, 3=Crest, 4=Fman25)")
	heartbeatCmd.Flags().DurationVar(&heartbeatTimeout, "timeout", 15*time.Second, "How long to wait for a response before giving up")
	heartbeatCmd.Flags().Bool("verbose", false, "Verbose logging")
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg := config.Config{
		BadgeVariant:      config.BadgeVariant(heartbeatBadgeVariant),
		StoreDir:          heartbeatStoreDir,
		GameServerBaseURL: heartbeatGameServerURL,
		ProvisionKey:      heartbeatProvisionKey,
	}
	if err := config.Load(&cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), heartbeatTimeout)
	defer cancel()

	clock := timeutil.NewSystemClock()
	b := bus.New(logger, cfg.BusQueueDepth)

	badgeID := identity.DeriveBadgeID(cfg.IdentitySalt, cfg.HardwareMAC)
	key := identity.DeriveKey(cfg.KeySalt, cfg.HardwareMAC)
	batterySensor := battery.New(logger, adcBattery(logger, "/sys/class/power_supply/battery/voltage_now"), nil)

	badgeStats := store.NewBadgeStats(logger, filepath.Join(cfg.StoreDir, "stats.bin"), batterySensor)
	gameStatus := store.NewGameStatus(logger, filepath.Join(cfg.StoreDir, "gamestatus.bin"), batterySensor)

	wifiClient := wifi.New(logger, b, clock, newNmcliStation(logger), staticCredentials{
		compiledSSID:     cfg.CompiledWifiSSID,
		compiledPassword: cfg.CompiledWifiPassword,
		userSSID:         func() (string, string) { return "", "" },
	})
	httpClient := httpclient.New(logger, b, wifiClient, http.DefaultClient, cfg.GameServerBaseURL, cfg.ProvisionKey, newOSClockSync(logger))
	gameStateMgr := gamestate.New(logger, b, gameStatus, badgeStats, batterySensor, noopSongQueuer{}, badgeID, key, uint8(cfg.BadgeVariant))

	done := make(chan store.GameStatusData, 1)
	b.Subscribe(bus.WifiHeartbeatResponseReceived, func(p any) {
		if status, ok := p.(store.GameStatusData); ok {
			select {
			case done <- status:
			default:
			}
		}
	})

	wifiClient.Run(ctx)
	httpClient.Run(ctx)
	gameStateMgr.Run(ctx)
	b.Run(ctx)

	if err := b.Notify(bus.SendHeartbeat, nil, bus.DefaultNotifyTimeout); err != nil {
		return fmt.Errorf("heartbeat: request dispatch: %w", err)
	}

	select {
	case status := <-done:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case <-ctx.Done():
		return fmt.Errorf("heartbeat: timed out waiting for response: %w", ctx.Err())
	}
}

type noopSongQueuer struct{}

func (noopSongQueuer) PlaySong(songIndex int) error { return nil }
