// Package config assembles the badge core's process configuration: the
// compiled-in defaults for every tunable the spec calls out by name, struct
// tag-driven default-filling, and validation of both the static config and
// inbound wire payloads (spec §9's guidance to centralize what was scattered
// across `#define`s and NVS blobs in the original firmware).
package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
)

// BadgeVariant identifies the compiled-in hardware variant (spec §6's
// badge_type field: 1=Tron, 2=Reactor, 3=Crest, 4=Fman25).
type BadgeVariant uint8

const (
	BadgeVariantTron    BadgeVariant = 1
	BadgeVariantReactor BadgeVariant = 2
	BadgeVariantCrest   BadgeVariant = 3
	BadgeVariantFman25  BadgeVariant = 4
)

// Config is the badge core's full process configuration. Fields carrying a
// `default` struct tag get a compiled-in default (applied by
// ApplyDefaults); the rest (BadgeVariant, the salts, HardwareMAC, the
// compiled Wi-Fi credentials, ProvisionKey, BaseServiceUUIDHigh) have none
// and are left to the caller. Where the spec names an explicit bound, a
// `validate` struct tag is enforced by Validate.
type Config struct {
	// BadgeVariant selects the hardware geometry and touch gesture table
	// (spec §6). Not struct-tag defaulted: it is read from build-time
	// configuration, never silently assumed, since wiring the wrong LED
	// geometry to real hardware is a physical-hardware mismatch, not a
	// recoverable default.
	BadgeVariant BadgeVariant `validate:"gte=1,lte=4"`

	// LogLevel is a validated logrus level name. configureLogger
	// (cmd/badgecore/logging.go) does not read it; the CLI's level comes
	// from the --log-level and --verbose flags only.
	LogLevel string `default:"warn" validate:"oneof=debug info warn error"`

	// BusQueueDepth sizes internal/bus.Bus's single shared event queue.
	BusQueueDepth int `default:"32" validate:"gte=1"`

	// StoreDir is the directory persisted records (user settings, game
	// status, badge stats) are written under.
	StoreDir string `default:"/var/lib/badgecore"`

	// IdentitySalt and KeySalt are mixed with the hardware MAC to derive
	// the badge's stable identifiers (internal/identity.DeriveBadgeID /
	// DeriveKey). Validate requires both to be non-empty; it does not
	// check that they differ.
	IdentitySalt []byte `validate:"gt=0"`
	KeySalt      []byte `validate:"gt=0"`

	// HardwareMAC is the network interface whose MAC address seeds badge
	// identity derivation, resolved at startup from NetworkInterfaceName
	// (spec §3).
	HardwareMAC net.HardwareAddr `validate:"-"`

	// NetworkInterfaceName names the interface to read HardwareMAC from.
	NetworkInterfaceName string `default:"eth0"`

	// CompiledWifiSSID/CompiledWifiPassword are the factory-provisioned
	// fallback credentials (wifi.CredentialSource.CompiledSSID), subject to
	// the same length ceilings as a user-supplied settings update (spec
	// §4.3, §6's wire struct: ssid:[u8;32], password:[u8;64]).
	CompiledWifiSSID     string `validate:"max=32"`
	CompiledWifiPassword string `validate:"max=64"`

	// ProvisionKey authenticates this badge to the cloud game server
	// (internal/httpclient.New's provisionKey parameter).
	ProvisionKey string `validate:"required"`

	// GameServerBaseURL is the cloud game server's HTTPS base URL
	// (internal/httpclient.New's baseURL parameter).
	GameServerBaseURL string `default:"https://game.badgecore.example" validate:"required,url"`

	// BaseServiceUUIDHigh is the upper 8 bytes of the GATT service UUID
	// whose low 8 bytes are overwritten with the current pair id
	// (internal/bleperipheral.New's baseUUID, spec §6).
	BaseServiceUUIDHigh [8]byte `validate:"-"`

	// MinRSSI/MaxRSSI describe a plausible BLE RSSI range in dBm (spec
	// §4.8's PeerReport.peak_rssi: i16). Validate checks that both lie in
	// -127..20 and that MinRSSI <= MaxRSSI; no other package reads them,
	// so peer reports are not filtered against this range.
	MinRSSI int16 `default:"-127" validate:"gte=-127,lte=20"`
	MaxRSSI int16 `default:"20" validate:"gte=-127,lte=20"`

	// HeartbeatHTTPTimeoutSeconds is a validated per-request heartbeat
	// timeout in seconds (spec §4.10/§4.11). Neither internal/httpclient
	// nor cmd/badgecore reads it, so heartbeat requests are not bounded by
	// it.
	HeartbeatHTTPTimeoutSeconds int `default:"10" validate:"gt=0"`
}

// ApplyDefaults fills every zero-valued field tagged `default`, the same
// mcuadros/go-defaults mechanism the teacher uses elsewhere.
func ApplyDefaults(cfg *Config) {
	defaults.SetDefaults(cfg)
}

// Validate checks cfg against its `validate` tags plus the handful of
// cross-field/non-taggable rules (MinRSSI <= MaxRSSI, a resolvable
// HardwareMAC).
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MinRSSI > cfg.MaxRSSI {
		return fmt.Errorf("config: MinRSSI (%d) must not exceed MaxRSSI (%d)", cfg.MinRSSI, cfg.MaxRSSI)
	}
	if len(cfg.HardwareMAC) == 0 {
		return fmt.Errorf("config: HardwareMAC must be resolved before validation")
	}
	return nil
}

// Load applies defaults, resolves HardwareMAC from NetworkInterfaceName, and
// validates the result in one step — the path cmd/badgecore's run/settings/
// heartbeat subcommands all share.
func Load(cfg *Config) error {
	ApplyDefaults(cfg)
	if len(cfg.HardwareMAC) == 0 {
		mac, err := resolveMAC(cfg.NetworkInterfaceName)
		if err != nil {
			return fmt.Errorf("config: resolve hardware MAC: %w", err)
		}
		cfg.HardwareMAC = mac
	}
	return Validate(cfg)
}

// resolveMAC reads the hardware MAC address off the named network
// interface. Using net.InterfaceByName rather than a vendor-specific
// ADC/efuse read keeps this portable across the dev machines this core
// actually runs on in this retrieval pack (no board-support package is
// part of the corpus).
func resolveMAC(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %q has no hardware address", name)
	}
	return iface.HardwareAddr, nil
}
