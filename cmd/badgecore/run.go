package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/spf13/cobra"

	"github.com/joehacksalot/badgecore/internal/audio"
	"github.com/joehacksalot/badgecore/internal/battery"
	"github.com/joehacksalot/badgecore/internal/bleobserver"
	"github.com/joehacksalot/badgecore/internal/bleperipheral"
	"github.com/joehacksalot/badgecore/internal/blewire"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/config"
	"github.com/joehacksalot/badgecore/internal/coordinator"
	"github.com/joehacksalot/badgecore/internal/gamestate"
	"github.com/joehacksalot/badgecore/internal/httpclient"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/led"
	"github.com/joehacksalot/badgecore/internal/ocarina"
	"github.com/joehacksalot/badgecore/internal/store"
	"github.com/joehacksalot/badgecore/internal/timeutil"
	"github.com/joehacksalot/badgecore/internal/touch"
	"github.com/joehacksalot/badgecore/internal/touchaction"
	"github.com/joehacksalot/badgecore/internal/wifi"
)

var (
	runStoreDir      string
	runGameServerURL string
	runProvisionKey  string
	runBadgeVariant  uint8
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the badge core",
	Long: `Boots the full badge core: BLE advertising/scanning, LED rendering,
touch gesture recognition, audio, Wi-Fi, and the cloud game-server heartbeat
loop, wired against this host's Bluetooth radio and network interface.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runStoreDir, "store-dir", "/var/lib/badgecore", "Directory for persisted records")
	runCmd.Flags().StringVar(&runGameServerURL, "game-server", "https://game.badgecore.example", "Cloud game server base URL")
	runCmd.Flags().StringVar(&runProvisionKey, "provision-key", "", "Badge provisioning key")
	runCmd.Flags().Uint8Var(&runBadgeVariant, "variant", 1, "Badge hardware variant (1=Tron, 2=Reactor, 3=Crest, 4=Fman25)")
	runCmd.Flags().Bool("verbose", false, "Verbose logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg := config.Config{
		BadgeVariant:      config.BadgeVariant(runBadgeVariant),
		StoreDir:          runStoreDir,
		GameServerBaseURL: runGameServerURL,
		ProvisionKey:      runProvisionKey,
	}
	if err := config.Load(&cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("badgecore: shutdown signal received")
		cancel()
	}()

	clock := timeutil.NewSystemClock()
	b := bus.New(logger, cfg.BusQueueDepth)

	badgeID, keyID := identity.DeriveBadgeID(cfg.IdentitySalt, cfg.HardwareMAC), identity.DeriveKey(cfg.KeySalt, cfg.HardwareMAC)
	batterySensor := battery.New(logger, adcBattery(logger, "/sys/class/power_supply/battery/voltage_now"), nil)

	userSettings := store.NewUserSettings(logger, filepath.Join(cfg.StoreDir, "settings.bin"), batterySensor, badgeID, keyID)
	badgeStats := store.NewBadgeStats(logger, filepath.Join(cfg.StoreDir, "stats.bin"), batterySensor)
	gameStatus := store.NewGameStatus(logger, filepath.Join(cfg.StoreDir, "gamestatus.bin"), batterySensor)

	geometry := geometryForVariant(cfg.BadgeVariant)
	ledCtl := led.New(logger, b, clock, geometry, logStrip{logger})
	seqLib := led.NewSequenceLibrary(led.NewSequenceHandler(), nil)
	touchSampler := touch.NewSampler(logger, b, clock, zeroTouchReader, nil)
	touchProc := touchaction.NewProcessor(logger, b, patternsForVariant(cfg.BadgeVariant))

	audioEngine := audio.New(logger, b, logTone{logger}, equalTemperedFrequency, electrodeToFrequencyTable(), audio.LookupFromCatalog(audio.DefaultCatalog()))
	ocarinaMatcher := ocarina.New(logger, b, audioEngine, ocarina.Catalog())

	station := newNmcliStation(logger)
	creds := staticCredentials{
		compiledSSID:     cfg.CompiledWifiSSID,
		compiledPassword: cfg.CompiledWifiPassword,
		userSSID: func() (string, string) {
			snap := userSettings.Snapshot()
			return snap.Wifi.SSID, snap.Wifi.Password
		},
	}
	wifiClient := wifi.New(logger, b, clock, station, creds)

	httpClient := httpclient.New(logger, b, wifiClient, http.DefaultClient, cfg.GameServerBaseURL, cfg.ProvisionKey, newOSClockSync(logger))

	gameStateMgr := gamestate.New(logger, b, gameStatus, badgeStats, batterySensor, audioEngine, badgeID, keyID, uint8(cfg.BadgeVariant))

	host, err := newTinygoAdapter()
	if err != nil {
		return err
	}

	var coordinatorMgr *coordinator.Manager
	bleService := bleperipheral.New(logger, b, host, clock, baseServiceUUID(cfg),
		func() identity.ID { return userSettings.Snapshot().PairID },
		userSettings.SetPairID,
		func() identity.ID { return badgeID },
		func() []byte {
			return blewire.EncodePeerBeacon(blewire.PeerBeacon{
				BadgeType: blewire.BadgeType(cfg.BadgeVariant),
				BadgeID:   badgeID,
				EventID:   identity.ID{},
			})
		},
		bleperipheral.FileHandlers{
			InstallLedSequence: seqLib.InstallCustom,
			UpdateSettings:     userSettings.UpdateFromJSON,
		},
		func() blewire.FileTransferReadResponse {
			snap := userSettings.Snapshot()
			var ssid [32]byte
			copy(ssid[:], snap.Wifi.SSID)
			return blewire.FileTransferReadResponse{
				BadgeID:          badgeID,
				SoundEnabled:     snap.SoundEnabled,
				VibrationEnabled: snap.VibrationEnabled,
				BadgeType:        blewire.BadgeType(cfg.BadgeVariant),
				SongBits:         gameStatus.Snapshot().SongUnlockedBits,
				SSID:             ssid,
			}
		},
		func() uint16 { return 0 },
		func(active bool) {
			if coordinatorMgr != nil {
				coordinatorMgr.HandleInteractiveGameActiveChange(active)
			}
		},
	)

	observer := bleobserver.New(logger, b, host, bleService, func() identity.ID { return userSettings.Snapshot().PairID })

	coordinatorMgr = coordinator.New(logger, b, clock, ledCtl, seqLib, touchSampler, touchProc, bleService, audioEngine,
		ocarinaMatcher, wifiClient, badgeStats, newGPIOVibration(logger), defaultPeerSongSelector)

	color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "badgecore: starting")

	ledCtl.Run(ctx)
	touchSampler.Run(ctx)
	audioEngine.Run(ctx)
	batterySensor.Run(ctx)
	wifiClient.Run(ctx)
	httpClient.Run(ctx)
	gameStateMgr.Run(ctx)
	bleService.Run(ctx)
	observer.Run(ctx)
	coordinatorMgr.Run(ctx)
	b.Run(ctx)

	<-ctx.Done()
	logger.Info("badgecore: shutdown complete")
	return nil
}

func geometryForVariant(v config.BadgeVariant) led.Geometry {
	switch v {
	case config.BadgeVariantReactor:
		return led.ReactorGeometry
	case config.BadgeVariantCrest:
		return led.CrestGeometry
	default:
		return led.TronGeometry
	}
}

func patternsForVariant(v config.BadgeVariant) []touchaction.Pattern {
	if v == config.BadgeVariantReactor {
		return touchaction.ReactorPatterns
	}
	return touchaction.TronPatterns
}

func baseServiceUUID(cfg config.Config) ble.UUID {
	b := make([]byte, 16)
	copy(b[8:], cfg.BaseServiceUUIDHigh[:])
	u, err := ble.Parse(ble.UUID(b).String())
	if err != nil {
		return ble.UUID(b)
	}
	return u
}

// defaultPeerSongSelector plays a song when a peer of a given badge type is
// sighted above the type-specific RSSI threshold (spec §4.7's peer-song
// feature, grounded on SystemState.c's per-badge-type song table).
func defaultPeerSongSelector(badgeType uint8) (songIndex int, rssiThreshold int16) {
	switch blewire.BadgeType(badgeType) {
	case blewire.BadgeTypeReactor:
		return audio.SongGuardianSong, -60
	case blewire.BadgeTypeCrest:
		return audio.SongSummerSong, -60
	case blewire.BadgeTypeFman25:
		return audio.SongStormSong, -60
	default:
		return audio.SongCompanionSong, -60
	}
}
