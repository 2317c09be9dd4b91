// Package debugapi exposes a minimal HTTP status endpoint for ops
// visibility into an Instance's leadership/playback/playlist state
// without a UI.
package debugapi

import (
	"encoding/json"
	"net/http"

	"playmesh/internal/instance"
)

// statusResponse mirrors the live Instance status returned by
// GET /api/instance/status.
//
// @Description live leadership/playback/playlist snapshot for one Instance
type statusResponse struct {
	IsLeader     bool    `json:"is_leader"`
	IsPlaying    bool    `json:"is_playing" example:"true"`
	CurrentSrc   string  `json:"current_src" example:"song.mp3"`
	CurrentTime  float64 `json:"current_time" example:"50.2"`
	Duration     float64 `json:"duration" example:"210"`
	Volume       float64 `json:"volume" example:"1"`
	Muted        bool    `json:"muted"`
	IsBuffering  bool    `json:"is_buffering"`
	TrackCount   int     `json:"track_count"`
	CurrentIndex int     `json:"current_index"`
}

// Handler returns an http.Handler serving GET /api/instance/status for
// inst. Register it on any *http.ServeMux the caller already runs
// (shared with Observer's websocket route, or standalone).
//
// @Summary      Instance status
// @Description  returns the live leadership/playback/playlist snapshot
// @Produce      json
// @Success      200  {object}  statusResponse
// @Router       /api/instance/status [get]
func Handler(inst *instance.Instance) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pb := inst.Engine().Snapshot()
		pl := inst.Playlist().Core().Snapshot()

		resp := statusResponse{
			IsLeader:     inst.IsLeader(),
			IsPlaying:    pb.IsPlaying,
			CurrentSrc:   pb.CurrentSrc,
			CurrentTime:  pb.CurrentTime,
			Duration:     pb.Duration,
			Volume:       pb.Volume,
			Muted:        pb.Muted,
			IsBuffering:  pb.IsBuffering,
			TrackCount:   len(pl.Tracks),
			CurrentIndex: pl.CurrentIndex,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
