package models

import "time"

// Playback actions accepted by the command router.
const (
	ActionPlay       = "play"
	ActionPause      = "pause"
	ActionSkip       = "skip"
	ActionPrevious   = "previous"
	ActionSetVolume  = "set-volume"
	ActionSeek       = "seek"
	ActionSetShuffle = "set-shuffle"
	ActionSetRepeat  = "set-repeat"
)

// Repeat modes for ActionSetRepeat.
const (
	RepeatOff      = "off"
	RepeatTrack    = "track"
	RepeatPlaylist = "playlist"
)

// PlaybackCommand is transient: it is routed to live sessions, never persisted.
type PlaybackCommand struct {
	Action   string      `json:"action"`
	Value    interface{} `json:"value,omitempty"`
	IssuedBy uint        `json:"issuedBy"`
	IssuedAt time.Time   `json:"issuedAt"`
}
