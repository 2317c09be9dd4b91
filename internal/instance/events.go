package instance

import (
	"playmesh/internal/playback"
	"playmesh/internal/playlist"
)

// EventType enumerates the unified event stream Instance fans out to
// external collaborators: OS media-control integration, the websocket
// observer, test harnesses.
type EventType int

const (
	EventPlay EventType = iota
	EventPause
	EventStop
	EventEnded
	EventTimeUpdate
	EventSeek
	EventTrackChange
	EventLeaderChange
	EventError
	EventBuffering
	EventBufferProgress
	EventPlaylistChanged
	EventPlaylistEnded
)

func (t EventType) String() string {
	switch t {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventStop:
		return "stop"
	case EventEnded:
		return "ended"
	case EventTimeUpdate:
		return "timeUpdate"
	case EventSeek:
		return "seek"
	case EventTrackChange:
		return "trackChange"
	case EventLeaderChange:
		return "leaderChange"
	case EventError:
		return "error"
	case EventBuffering:
		return "buffering"
	case EventBufferProgress:
		return "bufferProgress"
	case EventPlaylistChanged:
		return "playlistChanged"
	case EventPlaylistEnded:
		return "playlistEnded"
	default:
		return "unknown"
	}
}

// Event is delivered to every Instance subscriber. Playback carries
// the authoritative snapshot at emission time; the remaining fields
// are only meaningful for their matching Type.
type Event struct {
	Type     EventType
	Playback playback.State

	IsLeader bool

	PreviousTrack *playlist.Track
	CurrentTrack  *playlist.Track

	Err error
}

// Listener receives every emitted Event in order.
type Listener func(Event)

// Unsubscribe releases a listener registration; safe to call more
// than once.
type Unsubscribe func()
