// Package bus implements the badge's notification bus: a single serializing
// worker that fans typed events out to per-event subscriber lists in
// registration order, with one bounded queue shared by all events and a
// notify timeout.
package bus

// Event identifies one of the badge's notification types.
type Event int

const (
	TouchSenseAction Event = iota
	TouchActionCmd
	TouchEnabled
	TouchDisabled
	BleServiceEnabled
	BleServiceDisabled
	BleServiceConnected
	BleDropped
	BleServiceDisconnected
	BleFileServicePercentChanged
	FileComplete
	FileFailed
	FileSettingsReceived
	FileLedJsonReceived
	NewPairReceived
	PeerHeartbeatDetected
	GameEventJoined
	GameEventEnded
	FirstTimePowerOn
	WifiHeartbeatReadyToSend
	WifiHeartbeatResponseReceived
	SendHeartbeat
	WifiEnabled
	WifiDisabled
	WifiConnected
	WifiDisconnected
	OtaRequired
	OtaDownloadInitiated
	OtaDownloadComplete
	NetworkTestComplete
	PlaySong
	SongNoteAction
	OcarinaSongMatched
	InteractiveGameStateChange
	InteractiveGameAction

	eventCount
)

//go:generate stringer -type=Event

var eventNames = map[Event]string{
	TouchSenseAction:              "TouchSenseAction",
	TouchActionCmd:                "TouchActionCmd",
	TouchEnabled:                  "TouchEnabled",
	TouchDisabled:                 "TouchDisabled",
	BleServiceEnabled:             "BleServiceEnabled",
	BleServiceDisabled:            "BleServiceDisabled",
	BleServiceConnected:           "BleServiceConnected",
	BleDropped:                    "BleDropped",
	BleServiceDisconnected:        "BleServiceDisconnected",
	BleFileServicePercentChanged:  "BleFileServicePercentChanged",
	FileComplete:                  "FileComplete",
	FileFailed:                    "FileFailed",
	FileSettingsReceived:          "FileSettingsReceived",
	FileLedJsonReceived:           "FileLedJsonReceived",
	NewPairReceived:               "NewPairReceived",
	PeerHeartbeatDetected:         "PeerHeartbeatDetected",
	GameEventJoined:               "GameEventJoined",
	GameEventEnded:                "GameEventEnded",
	FirstTimePowerOn:              "FirstTimePowerOn",
	WifiHeartbeatReadyToSend:      "WifiHeartbeatReadyToSend",
	WifiHeartbeatResponseReceived: "WifiHeartbeatResponseReceived",
	SendHeartbeat:                 "SendHeartbeat",
	WifiEnabled:                   "WifiEnabled",
	WifiDisabled:                  "WifiDisabled",
	WifiConnected:                 "WifiConnected",
	WifiDisconnected:              "WifiDisconnected",
	OtaRequired:                   "OtaRequired",
	OtaDownloadInitiated:          "OtaDownloadInitiated",
	OtaDownloadComplete:           "OtaDownloadComplete",
	NetworkTestComplete:           "NetworkTestComplete",
	PlaySong:                      "PlaySong",
	SongNoteAction:                "SongNoteAction",
	OcarinaSongMatched:            "OcarinaSongMatched",
	InteractiveGameStateChange:    "InteractiveGameStateChange",
	InteractiveGameAction:         "InteractiveGameAction",
}

// String renders the event's name, or "Event(unknown)" for unknown values.
func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "Event(unknown)"
}
