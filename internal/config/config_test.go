package config

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		BadgeVariant:      BadgeVariantTron,
		IdentitySalt:      []byte("identity-salt"),
		KeySalt:           []byte("key-salt"),
		HardwareMAC:       net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
		ProvisionKey:      "provision-key",
		GameServerBaseURL: "https://game.badgecore.example",
	}
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 32, cfg.BusQueueDepth)
	assert.Equal(t, "eth0", cfg.NetworkInterfaceName)
	assert.Equal(t, int16(-127), cfg.MinRSSI)
	assert.Equal(t, int16(20), cfg.MaxRSSI)
	assert.Equal(t, 10, cfg.HeartbeatHTTPTimeoutSeconds)
}

func TestApplyDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "debug"
	cfg.BusQueueDepth = 64
	ApplyDefaults(&cfg)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.BusQueueDepth)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	require.NoError(t, Validate(&cfg))
}

func TestValidateRejectsBadgeVariantOutOfRange(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	cfg.BadgeVariant = 0
	assert.Error(t, Validate(&cfg))

	cfg.BadgeVariant = 5
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsOversizeWifiCredentials(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)

	long33 := make([]byte, 33)
	for i := range long33 {
		long33[i] = 'a'
	}
	cfg.CompiledWifiSSID = string(long33)
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsMissingProvisionKey(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	cfg.ProvisionKey = ""
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsInvertedRSSIBounds(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	cfg.MinRSSI = 10
	cfg.MaxRSSI = -10
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsMissingHardwareMAC(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	cfg.HardwareMAC = nil
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsMissingSalts(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(&cfg)
	cfg.IdentitySalt = nil
	assert.Error(t, Validate(&cfg))
}
