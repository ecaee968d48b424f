package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joehacksalot/badgecore/internal/battery"
	"github.com/joehacksalot/badgecore/internal/config"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/store"
)

var (
	settingsStoreDir     string
	settingsBadgeVariant uint8
	settingsPatchFile    string
)

// settingsCmd dumps or patches the persisted UserSettings record, for
// inspecting or seeding a badge's settings without waiting on a BLE
// file-transfer session (spec §4.3, §4.9.1).
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Dump or patch the persisted user settings record",
	RunE:  runSettings,
}

func init() {
	settingsCmd.Flags().StringVar(&settingsStoreDir, "store-dir", "/var/lib/badgecore", "Directory for persisted records")
	settingsCmd.Flags().Uint8Var(&settingsBadgeVariant, "variant", 1, "Badge hardware variant (1=Tron, 2=Reactor, 3=Crest, 4=Fman25)")
	settingsCmd.Flags().StringVar(&settingsPatchFile, "patch", "", "Path to a settings-update JSON document to apply (spec §4.3's wire format); omit to dump the current record")
	settingsCmd.Flags().Bool("verbose", false, "Verbose logging")
}

func runSettings(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg := config.Config{BadgeVariant: config.BadgeVariant(settingsBadgeVariant), StoreDir: settingsStoreDir}
	if err := config.Load(&cfg); err != nil {
		return err
	}

	badgeID := identity.DeriveBadgeID(cfg.IdentitySalt, cfg.HardwareMAC)
	key := identity.DeriveKey(cfg.KeySalt, cfg.HardwareMAC)
	batterySensor := battery.New(logger, adcBattery(logger, "/sys/class/power_supply/battery/voltage_now"), nil)
	settings := store.NewUserSettings(logger, filepath.Join(cfg.StoreDir, "settings.bin"), batterySensor, badgeID, key)

	if settingsPatchFile == "" {
		return dumpSettings(cmd, settings)
	}

	data, err := os.ReadFile(settingsPatchFile)
	if err != nil {
		return fmt.Errorf("settings: read patch file: %w", err)
	}
	if err := settings.UpdateFromJSON(data); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "settings: patch applied")
	return dumpSettings(cmd, settings)
}

func dumpSettings(cmd *cobra.Command, settings *store.UserSettings) error {
	snap := settings.Snapshot()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"badge_id":              settings.BadgeID().Base64(),
		"selected_led_sequence": snap.SelectedLedSequenceIndex,
		"sound_enabled":         snap.SoundEnabled,
		"vibration_enabled":     snap.VibrationEnabled,
		"pair_id":               snap.PairID.Base64(),
		"wifi_ssid":             snap.Wifi.SSID,
	})
}
