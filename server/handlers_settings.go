package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/clip-tender/config"
)

// settingsBody is a partial update; omitted fields keep their values.
type settingsBody struct {
	Creators         *[]string `json:"creators"`
	VideosPerCreator *int      `json:"videos_per_creator"`
	MaxUploadsPerDay *int      `json:"max_uploads_per_day"`
}

func (h *Handlers) settingsStore(w http.ResponseWriter) *config.SettingsStore {
	if h.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings not configured")
	}
	return h.deps.Settings
}

// HandleSettingsGet returns the operator settings file contents.
func (h *Handlers) HandleSettingsGet(w http.ResponseWriter, r *http.Request) {
	store := h.settingsStore(w)
	if store == nil {
		return
	}
	st, err := store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSettingsPut applies a partial update. Invalid results are rejected
// with 400 and nothing is written. Changes apply from the next run.
func (h *Handlers) HandleSettingsPut(w http.ResponseWriter, r *http.Request) {
	store := h.settingsStore(w)
	if store == nil {
		return
	}
	var body settingsBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	var invalid bool
	st, err := store.Update(func(s *config.Settings) error {
		if body.Creators != nil {
			s.Creators = *body.Creators
		}
		if body.VideosPerCreator != nil {
			s.VideosPerCreator = *body.VideosPerCreator
		}
		if body.MaxUploadsPerDay != nil {
			s.MaxUploadsPerDay = *body.MaxUploadsPerDay
		}
		if err := s.Validate(); err != nil {
			invalid = true
			return err
		}
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if invalid {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleCreatorsList returns the configured creator handles.
func (h *Handlers) HandleCreatorsList(w http.ResponseWriter, r *http.Request) {
	store := h.settingsStore(w)
	if store == nil {
		return
	}
	st, err := store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	creators := st.Creators
	if creators == nil {
		creators = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"creators": creators})
}

// HandleCreatorsAdd adds {"handle": "..."}; 409 if already present.
func (h *Handlers) HandleCreatorsAdd(w http.ResponseWriter, r *http.Request) {
	store := h.settingsStore(w)
	if store == nil {
		return
	}
	var body struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil || body.Handle == "" {
		writeError(w, http.StatusBadRequest, `body must be {"handle": "<creator>"}`)
		return
	}
	st, err := store.AddCreator(body.Handle)
	h.creatorResult(w, st, err, http.StatusCreated)
}

// HandleCreatorsRemove removes the handle in the path; 404 if absent.
func (h *Handlers) HandleCreatorsRemove(w http.ResponseWriter, r *http.Request) {
	store := h.settingsStore(w)
	if store == nil {
		return
	}
	st, err := store.RemoveCreator(r.PathValue("handle"))
	h.creatorResult(w, st, err, http.StatusOK)
}

func (h *Handlers) creatorResult(w http.ResponseWriter, st config.Settings, err error, ok int) {
	switch {
	case errors.Is(err, config.ErrCreatorExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrCreatorMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, ok, map[string]any{"creators": st.Creators})
	}
}
