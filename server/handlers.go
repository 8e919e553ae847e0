package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/clip-tender/catalog"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/twitchapi"
	"github.com/onnwee/clip-tender/worker"
	"github.com/onnwee/clip-tender/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// Controller is the worker surface the control endpoints drive.
type Controller interface {
	Start() error
	Stop() error
	Restart(ctx context.Context) error
	Status() worker.Status
}

// Deps are the collaborators behind the HTTP surface. Nil optional fields
// disable the endpoints that need them.
type Deps struct {
	Config   *config.Config
	Worker   Controller
	Settings *config.SettingsStore
	Catalog  *catalog.Store
	Ledger   *ledger.Ledger
	DB       *db.DB
	YouTube  *youtubeapi.Service
	Twitch   *twitchapi.OAuth
	Tokens   *db.TokenStore
	Runs     *db.RunStore
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{deps: deps, stateStore: make(map[string]time.Time)}
}

// cleanExpiredStates removes expired OAuth states. Caller holds stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState remembers state until expiry. It refuses new states once the
// store is full so the flow fails instead of growing memory without bound.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState validates and removes state in one step.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
