package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/evhome/chargepilot/internal/feed"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/settings"
	"github.com/evhome/chargepilot/internal/tesla"
	"github.com/evhome/chargepilot/internal/tokens"
)

// VehicleAPI is the slice of the vehicle client the handlers consume.
type VehicleAPI interface {
	GetVehicles(ctx context.Context) ([]tesla.Vehicle, error)
	GetVehicleData(ctx context.Context, id string) (*tesla.VehicleData, error)
	Command(ctx context.Context, name, id string, params interface{}) (json.RawMessage, error)
}

// VehicleWaker drives a vehicle to online, bounded by the request context.
type VehicleWaker interface {
	WaitForOnline(ctx context.Context, id string) (*tesla.Vehicle, error)
}

// GridAPI is the slice of the grid data client the handlers consume.
type GridAPI interface {
	GetCurrent(ctx context.Context, lat, lon float64) (*griddata.Snapshot, error)
	GetHistory(ctx context.Context, zone string) ([]griddata.Snapshot, error)
}

// Handler carries the collaborators behind the HTTP routes.
type Handler struct {
	api      VehicleAPI
	waker    VehicleWaker
	grid     GridAPI
	settings *settings.Store
	tokens   *tokens.Store
	feed     *feed.Feed
	gridZone string
	logger   *logrus.Logger

	// onTeslaToken and onGridToken let main rewire the upstream clients
	// when new tokens arrive through the API.
	onTeslaToken func(tesla.Credentials)
	onGridToken  func(string)
}

// NewHandler creates the API handler.
func NewHandler(
	api VehicleAPI,
	waker VehicleWaker,
	grid GridAPI,
	settingsStore *settings.Store,
	tokenStore *tokens.Store,
	f *feed.Feed,
	gridZone string,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		api:      api,
		waker:    waker,
		grid:     grid,
		settings: settingsStore,
		tokens:   tokenStore,
		feed:     f,
		gridZone: gridZone,
		logger:   logger,
	}
}

// OnTeslaToken registers a callback invoked when a vehicle API token pair is
// saved through the API.
func (h *Handler) OnTeslaToken(cb func(tesla.Credentials)) { h.onTeslaToken = cb }

// OnGridToken registers a callback invoked when a grid API token is saved
// through the API.
func (h *Handler) OnGridToken(cb func(string)) { h.onGridToken = cb }

func (h *Handler) getVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.api.GetVehicles(r.Context())
	if err != nil {
		h.apiError(w, "fetching vehicles", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vehicles)
}

func (h *Handler) getVehicleData(w http.ResponseWriter, r *http.Request) {
	data, err := h.api.GetVehicleData(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.apiError(w, "fetching vehicle data", err)
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

func (h *Handler) wakeVehicle(w http.ResponseWriter, r *http.Request) {
	// The wake loop runs until the vehicle is online or the client goes
	// away; closing the request cancels it.
	vehicle, err := h.waker.WaitForOnline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.apiError(w, "waking vehicle", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vehicle)
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var params interface{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid command parameters")
			return
		}
	}

	resp, err := h.api.Command(r.Context(), vars["name"], vars["id"], params)
	if err != nil {
		h.apiError(w, "sending command", err)
		return
	}
	h.writeJSON(w, http.StatusOK, json.RawMessage(resp))
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing required parameter: id")
		return
	}
	entry := h.settings.GetByID(id)
	if entry == nil {
		h.writeError(w, http.StatusNotFound, "no settings for vehicle "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var entry settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if entry.ID == "" {
		h.writeError(w, http.StatusBadRequest, "settings id is required")
		return
	}
	if err := h.settings.Create(entry); err != nil {
		h.logger.WithError(err).Error("Saving settings failed")
		h.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) deleteSettings(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing required parameter: id")
		return
	}
	if err := h.settings.Delete(id); err != nil {
		h.logger.WithError(err).Error("Deleting settings failed")
		h.writeError(w, http.StatusInternalServerError, "failed to delete settings")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) getToken(w http.ResponseWriter, r *http.Request) {
	tokenType := r.URL.Query().Get("type")
	if tokenType == "" {
		h.writeError(w, http.StatusBadRequest, "missing required parameter: type")
		return
	}
	entry := h.tokens.Get(tokenType)
	if entry == nil {
		h.writeError(w, http.StatusNotFound, "token not found")
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

type saveTokenRequest struct {
	Type         string `json:"type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
}

func (h *Handler) saveToken(w http.ResponseWriter, r *http.Request) {
	var req saveTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid token payload")
		return
	}

	switch req.Type {
	case tokens.TypeTesla:
		creds := tesla.Credentials{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
		if err := h.tokens.SaveTeslaCredentials(creds); err != nil {
			h.logger.WithError(err).Error("Saving token failed")
			h.writeError(w, http.StatusInternalServerError, "failed to save token")
			return
		}
		if h.onTeslaToken != nil {
			h.onTeslaToken(creds)
		}
	case tokens.TypeGrid:
		if err := h.tokens.SaveGridToken(req.Token); err != nil {
			h.logger.WithError(err).Error("Saving token failed")
			h.writeError(w, http.StatusInternalServerError, "failed to save token")
			return
		}
		if h.onGridToken != nil {
			h.onGridToken(req.Token)
		}
	default:
		h.writeError(w, http.StatusBadRequest, "unknown token type: "+req.Type)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) getEnergyCurrent(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		h.writeError(w, http.StatusBadRequest, "missing required lat, lon parameters")
		return
	}

	snapshot, err := h.grid.GetCurrent(r.Context(), lat, lon)
	if err != nil {
		if errors.Is(err, griddata.ErrRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, "grid data provider rate limited, try again later")
			return
		}
		h.logger.WithError(err).Error("Fetching grid data failed")
		h.writeError(w, http.StatusBadGateway, "failed to fetch grid data")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) getEnergyHistory(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		zone = h.gridZone
	}

	history, err := h.grid.GetHistory(r.Context(), zone)
	if err != nil {
		if errors.Is(err, griddata.ErrRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, "grid data provider rate limited, try again later")
			return
		}
		h.logger.WithError(err).Error("Fetching grid history failed")
		h.writeError(w, http.StatusBadGateway, "failed to fetch grid history")
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// getStatus serves the latest feed snapshot so dashboards can render
// without hitting the upstream APIs.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.feed.Snapshot())
}

// apiError maps a vehicle API failure onto an HTTP status using the error
// taxonomy.
func (h *Handler) apiError(w http.ResponseWriter, action string, err error) {
	h.logger.WithError(err).Error("Vehicle API call failed: " + action)

	status := http.StatusBadGateway
	var apiErr *tesla.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case tesla.ErrUnauthorized:
			status = http.StatusUnauthorized
		case tesla.ErrNoVehicle:
			status = http.StatusNotFound
		case tesla.ErrTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Encoding response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
