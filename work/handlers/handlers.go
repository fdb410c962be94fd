package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"playcore/work/database"
	"playcore/work/engine"
	"playcore/work/logger"
	"playcore/work/session"
	"playcore/work/types"
)

// openRequest is the body for session creation. RoomCode switches the
// session into watch-party mode.
type openRequest struct {
	ProfileID string      `json:"profileId"`
	Media     types.Media `json:"media"`
	RoomCode  string      `json:"roomCode,omitempty"`
	Host      bool        `json:"host,omitempty"`
}

// HandleOpenSession creates a player session and resolves its media. The
// session is returned even when resolution fails so the client can retry
// against the same id.
func HandleOpenSession(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.ProfileID == "" || req.Media.TmdbID == 0 {
			http.Error(w, "profileId and media.tmdbId are required", http.StatusBadRequest)
			return
		}

		var (
			s   *session.Session
			err error
		)
		if req.RoomCode != "" {
			s, err = mgr.OpenInParty(r.Context(), req.ProfileID, req.Media, engine.NewVirtual(), req.RoomCode, req.Host)
		} else {
			s, err = mgr.Open(r.Context(), req.ProfileID, req.Media, engine.NewVirtual())
		}
		if err != nil {
			logger.Warn("session %s opened with resolution error: %v", sessionID(s), err)
		}
		if s == nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, s.Status())
	}
}

// HandleSessionStatus returns the composite session snapshot.
func HandleSessionStatus(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		writeJSON(w, s.Status())
	})
}

// HandleCloseSession tears the session down.
func HandleCloseSession(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !mgr.Close(mux.Vars(r)["id"]) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleReport accepts a status report from the remote playback element.
func HandleReport(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var status engine.Status
		if !readJSON(w, r, &status) {
			return
		}
		s.Report(status)
		writeJSON(w, s.Status())
	})
}

// HandleReportError accepts a playback element error from the remote side,
// feeding the fallback ladder.
func HandleReportError(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var body struct {
			Message string `json:"message"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		s.ReportError(body.Message)
		w.WriteHeader(http.StatusAccepted)
	})
}

// HandlePlay resumes playback.
func HandlePlay(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		respond(w, s, s.Play(r.Context()))
	})
}

// HandlePause halts playback and persists the position.
func HandlePause(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		respond(w, s, s.Pause(r.Context()))
	})
}

// HandleSeek jumps to a position.
func HandleSeek(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var body struct {
			PositionMillis int64 `json:"positionMillis"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		respond(w, s, s.SeekTo(r.Context(), body.PositionMillis))
	})
}

// HandleChangeEpisode re-resolves the session onto another item.
func HandleChangeEpisode(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var media types.Media
		if !readJSON(w, r, &media) {
			return
		}
		if media.TmdbID == 0 {
			http.Error(w, "media.tmdbId is required", http.StatusBadRequest)
			return
		}
		respond(w, s, s.ChangeEpisode(r.Context(), media))
	})
}

// HandleSelectQuality applies a manual quality choice; an empty optionId
// reverts to auto.
func HandleSelectQuality(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var body struct {
			OptionID string `json:"optionId"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		respond(w, s, s.SelectQuality(r.Context(), body.OptionID))
	})
}

// HandleSelectCaption activates a caption track; an empty trackId turns
// captions off.
func HandleSelectCaption(mgr *session.Manager) http.HandlerFunc {
	return withSession(mgr, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var body struct {
			TrackID string `json:"trackId"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		respond(w, s, s.SelectCaption(r.Context(), body.TrackID))
	})
}

// HandleCreateRoom registers a watch-party room.
func HandleCreateRoom(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RoomCode string `json:"roomCode"`
			HostID   string `json:"hostId"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.RoomCode == "" || body.HostID == "" {
			http.Error(w, "roomCode and hostId are required", http.StatusBadRequest)
			return
		}
		if err := db.CreateRoom(r.Context(), body.RoomCode, body.HostID); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// HandleRoomState returns the room's snapshot and episode pointer.
func HandleRoomState(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCode := mux.Vars(r)["room"]
		room, err := db.GetRoom(r.Context(), roomCode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if room == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		snap, err := db.LoadPlayback(r.Context(), roomCode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		episode, err := db.LoadEpisode(r.Context(), roomCode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"roomCode": room.RoomCode,
			"hostId":   room.HostID,
			"playback": snap,
			"episode":  episode,
		})
	}
}

// HandleSendChat appends a chat message to the room.
func HandleSendChat(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Sender string `json:"sender"`
			Body   string `json:"body"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Sender == "" || body.Body == "" {
			http.Error(w, "sender and body are required", http.StatusBadRequest)
			return
		}

		msg := types.ChatMessage{
			RoomCode:  mux.Vars(r)["room"],
			Sender:    body.Sender,
			Body:      body.Body,
			CreatedAt: nowMillis(),
		}
		id, err := db.AppendChat(r.Context(), msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msg.ID = id
		writeJSON(w, msg)
	}
}

// HandleListChat returns chat messages newer than the since id.
func HandleListChat(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sinceID, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		msgs, err := db.ListChat(r.Context(), mux.Vars(r)["room"], sinceID, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []types.ChatMessage{}
		}
		writeJSON(w, msgs)
	}
}

// HandleListProgress returns a profile's recent watch positions.
func HandleListProgress(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := db.ListProgress(r.Context(), mux.Vars(r)["profile"], limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []types.WatchProgress{}
		}
		writeJSON(w, items)
	}
}

// HandleDeleteProgress removes one saved position.
func HandleDeleteProgress(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var media types.Media
		if !readJSON(w, r, &media) {
			return
		}
		if err := db.DeleteProgress(r.Context(), mux.Vars(r)["profile"], media); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// withSession resolves the session from the route and 404s when missing.
func withSession(mgr *session.Manager, fn func(http.ResponseWriter, *http.Request, *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mgr.Get(mux.Vars(r)["id"])
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		fn(w, r, s)
	}
}

// respond writes either the error or the refreshed session snapshot.
func respond(w http.ResponseWriter, s *session.Session, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, s.Status())
}

func readJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response: %v", err)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func sessionID(s *session.Session) string {
	if s == nil {
		return "?"
	}
	return s.ID
}
