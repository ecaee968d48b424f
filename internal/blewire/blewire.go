// Package blewire implements the badge's BLE wire formats: advertisement
// payload parsing, the service-enable UUID match, and the file-transfer and
// interactive-game GATT frame codecs (spec §4.8, §4.9, §6).
package blewire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/go-ble/ble"

	"github.com/joehacksalot/badgecore/internal/identity"
)

// BadgeType identifies the hardware variant advertised in a peer beacon.
type BadgeType uint8

const (
	BadgeTypeTron   BadgeType = 1
	BadgeTypeReactor BadgeType = 2
	BadgeTypeCrest  BadgeType = 3
	BadgeTypeFman25 BadgeType = 4
)

// PeerBeaconMagic is the leading 16-bit magic number of a peer beacon
// manufacturer-data payload.
const PeerBeaconMagic uint16 = 0x1337

// PeerBeaconSize is the exact manufacturer data length of a peer beacon:
// 2 (magic) + 1 (badge type) + 8 (badge id) + 8 (event id).
const PeerBeaconSize = 2 + 1 + identity.IDLen + identity.IDLen

// PeerBeacon is the parsed payload of a peer-beacon advertisement.
type PeerBeacon struct {
	BadgeType BadgeType
	BadgeID   identity.ID
	EventID   identity.ID
}

// EncodePeerBeacon serializes a PeerBeacon to its little-endian wire form
// (spec §6), for use by the peripheral's non-connectable advertising path.
func EncodePeerBeacon(b PeerBeacon) []byte {
	out := make([]byte, PeerBeaconSize)
	binary.LittleEndian.PutUint16(out[0:2], PeerBeaconMagic)
	out[2] = byte(b.BadgeType)
	copy(out[3:3+identity.IDLen], b.BadgeID[:])
	copy(out[3+identity.IDLen:], b.EventID[:])
	return out
}

// ParsePeerBeacon decodes manufacturer data as a peer beacon. It returns
// false if the length or magic number don't match (spec §4.8's "malformed
// advertisements are silently dropped" policy — the caller decides what
// silently means).
func ParsePeerBeacon(manufacturerData []byte) (PeerBeacon, bool) {
	if len(manufacturerData) != PeerBeaconSize {
		return PeerBeacon{}, false
	}
	if binary.LittleEndian.Uint16(manufacturerData[0:2]) != PeerBeaconMagic {
		return PeerBeacon{}, false
	}
	var beacon PeerBeacon
	beacon.BadgeType = BadgeType(manufacturerData[2])
	copy(beacon.BadgeID[:], manufacturerData[3:3+identity.IDLen])
	copy(beacon.EventID[:], manufacturerData[3+identity.IDLen:])
	return beacon, true
}

// serviceEnableTopBytes are the fixed top 2 bytes of the service-enable
// match UUID (spec §6).
var serviceEnableTopBytes = [2]byte{0x38, 0x13}

// MatchesServiceEnable reports whether a 128-bit service-data UUID (as a
// hex string, no dashes, the form the scan-port's Advertisement.ServiceData
// returns) signals a paired-peer remote wake-up for pairID: its low 8 bytes
// equal pairID reversed, its middle 6 bytes are zero, and its top 2 bytes
// are 0x38, 0x13 (spec §4.8, §6).
func MatchesServiceEnable(uuidHex string, pairID identity.ID) bool {
	if pairID.IsZero() {
		return false
	}
	b, err := hex.DecodeString(strings.ReplaceAll(uuidHex, "-", ""))
	if err != nil || len(b) != 16 {
		return false
	}
	// go-ble's UUID.String renders bytes in little-endian (least
	// significant byte first), so b[0:8] is the low 8 bytes, b[14:16]
	// the top 2.
	reversed := pairID.Reversed()
	for i := 0; i < identity.IDLen; i++ {
		if b[i] != reversed[i] {
			return false
		}
	}
	for i := 8; i < 14; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return b[14] == serviceEnableTopBytes[0] && b[15] == serviceEnableTopBytes[1]
}

// ServiceUUID builds the GATT service's 128-bit UUID: a fixed base with its
// low 8 bytes overwritten by pairID when non-zero (spec §4.9).
func ServiceUUID(base ble.UUID, pairID identity.ID) ble.UUID {
	b := append([]byte(nil), base.Bytes()...)
	if !pairID.IsZero() {
		copy(b[0:identity.IDLen], pairID[:])
	}
	u, err := ble.Parse(ble.UUID(b).String())
	if err != nil {
		return base
	}
	return u
}

// FileType identifies the payload kind of a completed file transfer.
type FileType uint8

const (
	FileTypeLedSequence FileType = 1
	FileTypeSettings    FileType = 2
	FileTypePairTest    FileType = 3
)

// Frame protocol constants (spec §4.9.1, §6).
const (
	ConfigFrameSize = 15
	DataHeaderSize  = 2
	DataMaxSize     = 500
	MaxFrames       = 1024
	MaxFileSize     = 128 * 1024
)

var (
	// ErrBadConfigFrame is returned when a config frame fails validation.
	ErrBadConfigFrame = errors.New("blewire: invalid config frame")
	// ErrBadDataFrame is returned when a data frame fails bounds checks.
	ErrBadDataFrame = errors.New("blewire: invalid data frame")
)

// ConfigFrame is the first frame of a file transfer (spec §4.9.1).
type ConfigFrame struct {
	CurFrame   uint16
	NumFrames  uint16
	FrameLen   uint16
	FileType   FileType
	PairID     identity.ID
	PairingTouchUp bool
}

// ParseConfigFrame decodes and validates a config frame. A
// cur_frame==0 && num_frames==0 frame is a pairing touch-up: valid, but
// PairingTouchUp is set and no transfer should begin.
func ParseConfigFrame(data []byte) (ConfigFrame, error) {
	if len(data) != ConfigFrameSize {
		return ConfigFrame{}, ErrBadConfigFrame
	}
	curFrame := binary.BigEndian.Uint16(data[0:2])
	numFrames := binary.BigEndian.Uint16(data[2:4])
	frameLen := binary.BigEndian.Uint16(data[4:6])
	fileType := FileType(data[6])

	if curFrame != 0 {
		return ConfigFrame{}, ErrBadConfigFrame
	}
	if numFrames == 0 {
		var pairID identity.ID
		copy(pairID[:], data[7:7+identity.IDLen])
		return ConfigFrame{CurFrame: 0, NumFrames: 0, PairID: pairID, PairingTouchUp: true}, nil
	}
	if !(frameLen > DataHeaderSize && frameLen < DataMaxSize) {
		return ConfigFrame{}, ErrBadConfigFrame
	}
	var pairID identity.ID
	copy(pairID[:], data[7:7+identity.IDLen])
	return ConfigFrame{
		CurFrame:  curFrame,
		NumFrames: numFrames,
		FrameLen:  frameLen,
		FileType:  fileType,
		PairID:    pairID,
	}, nil
}

// DataFrame is a subsequent file-transfer frame (spec §4.9.1).
type DataFrame struct {
	FrameIndex uint16
	Payload    []byte
}

// ParseDataFrame decodes a data frame. It does not perform the
// frame-index/offset bounds checks against a live FrameContext — those
// depend on session state and belong to the caller (internal/bleperipheral).
func ParseDataFrame(data []byte) (DataFrame, error) {
	if len(data) <= DataHeaderSize {
		return DataFrame{}, ErrBadDataFrame
	}
	return DataFrame{
		FrameIndex: binary.BigEndian.Uint16(data[0:2]),
		Payload:    data[2:],
	}, nil
}

// InteractiveGameBits decodes a 2-byte interactive-game characteristic
// write (spec §4.9.2).
type InteractiveGameBits struct {
	TouchSensorsToLight uint16 // bits 0..8
	LastFailed          bool   // bit 14
	Active              bool   // bit 15
}

// ParseInteractiveGameBits decodes a 2-byte write into its bitfields.
func ParseInteractiveGameBits(data []byte) (InteractiveGameBits, error) {
	if len(data) != 2 {
		return InteractiveGameBits{}, errors.New("blewire: interactive-game write must be 2 bytes")
	}
	v := binary.BigEndian.Uint16(data)
	return InteractiveGameBits{
		TouchSensorsToLight: v & 0x1FF,
		LastFailed:          v&(1<<14) != 0,
		Active:              v&(1<<15) != 0,
	}, nil
}

// Encode packs an InteractiveGameBits back into its 2-byte wire form, used
// when composing a characteristic read response.
func (b InteractiveGameBits) Encode() []byte {
	v := b.TouchSensorsToLight & 0x1FF
	if b.LastFailed {
		v |= 1 << 14
	}
	if b.Active {
		v |= 1 << 15
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return out
}

// FileTransferReadResponse is the fixed structure returned by a read on the
// file-transfer characteristic (spec §4.9.1).
type FileTransferReadResponse struct {
	BadgeID         identity.ID
	SoundEnabled    bool
	VibrationEnabled bool
	BadgeType       BadgeType
	SongBits        uint16
	SSID            [32]byte
}

// Encode packs a FileTransferReadResponse into its wire form:
// badge_id[8], packed{sound_en:1,vib_en:1,_:6}, badge_type:u8, song_bits:u16 (LE), ssid[32].
func (r FileTransferReadResponse) Encode() []byte {
	out := make([]byte, identity.IDLen+1+1+2+32)
	copy(out[0:identity.IDLen], r.BadgeID[:])
	packed := byte(0)
	if r.SoundEnabled {
		packed |= 0x01
	}
	if r.VibrationEnabled {
		packed |= 0x02
	}
	out[identity.IDLen] = packed
	out[identity.IDLen+1] = byte(r.BadgeType)
	binary.LittleEndian.PutUint16(out[identity.IDLen+2:identity.IDLen+4], r.SongBits)
	copy(out[identity.IDLen+4:], r.SSID[:])
	return out
}
