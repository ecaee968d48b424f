package identity

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveBadgeIDIsDeterministic(t *testing.T) {
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	salt := []byte("badge-salt")

	id1 := DeriveBadgeID(salt, mac)
	id2 := DeriveBadgeID(salt, mac)
	assert.Equal(t, id1, id2)
}

func TestDeriveBadgeIDAndKeyDifferWithDifferentSalts(t *testing.T) {
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	id := DeriveBadgeID([]byte("salt-a"), mac)
	key := DeriveKey([]byte("salt-b"), mac)
	assert.NotEqual(t, id, key)
}

func TestBase64RoundTrip(t *testing.T) {
	id := ID{1, 2, 3, 4, 5, 6, 7, 8}
	encoded := id.Base64()
	assert.Equal(t, "AQIDBAUGBwg=", encoded)

	parsed, err := ParseID(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestReversed(t *testing.T) {
	id := ID{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, ID{8, 7, 6, 5, 4, 3, 2, 1}, id.Reversed())
}

func TestIsZero(t *testing.T) {
	assert.True(t, ID{}.IsZero())
	assert.False(t, ID{1}.IsZero())
}

func TestParseIDRejectsWrongLength(t *testing.T) {
	_, err := ParseID("AQI=")
	assert.Error(t, err)
}
