package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hubwatch/ajax-bridge/internal/pkg/coordinator"
	"github.com/hubwatch/ajax-bridge/internal/pkg/sqsapi"
)

// BridgeHandler is the HTTP surface external adapters (entity layers,
// dashboards) consume: the read-only snapshot, the command methods and
// the listener lifecycle.
type BridgeHandler struct {
	coord    *coordinator.Coordinator
	listener *sqsapi.Listener
}

// NewBridgeHandler wires the coordinator and the (possibly nil)
// event listener into a handler set.
func NewBridgeHandler(coord *coordinator.Coordinator, listener *sqsapi.Listener) *BridgeHandler {
	return &BridgeHandler{
		coord:    coord,
		listener: listener,
	}
}

// Register attaches all routes to the router
func (h *BridgeHandler) Register(r *mux.Router) {
	r.HandleFunc("/snapshot", h.getSnapshot).Methods(http.MethodGet)

	r.HandleFunc("/hub/arm", h.armHub).Methods(http.MethodPost)
	r.HandleFunc("/hub/disarm", h.disarmHub).Methods(http.MethodPost)
	r.HandleFunc("/hub/night-mode", h.hubNightMode).Methods(http.MethodPost)
	r.HandleFunc("/hub/mute", h.muteHub).Methods(http.MethodPost)
	r.HandleFunc("/hub/restore", h.restoreHub).Methods(http.MethodPost)

	r.HandleFunc("/groups/{id}/arm", h.armGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/disarm", h.disarmGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/night-mode", h.groupNightMode).Methods(http.MethodPost)

	r.HandleFunc("/devices/{id}/switch", h.switchDevice).Methods(http.MethodPost)

	r.HandleFunc("/listener", h.listenerStatus).Methods(http.MethodGet)
	r.HandleFunc("/listener/start", h.listenerStart).Methods(http.MethodPost)
	r.HandleFunc("/listener/stop", h.listenerStop).Methods(http.MethodPost)

	r.HandleFunc("/credentials", h.getCredentials).Methods(http.MethodGet)

	r.HandleFunc("/spaces", h.getSpaces).Methods(http.MethodGet)
}

func (h *BridgeHandler) getSnapshot(rw http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	if snap == nil {
		respondJSON(rw, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot yet"})
		return
	}

	respondJSON(rw, http.StatusOK, snap)
}

type armingRequest struct {
	IgnoreProblems bool `json:"ignoreProblems"`
}

type nightModeRequest struct {
	Enabled        bool `json:"enabled"`
	IgnoreProblems bool `json:"ignoreProblems"`
}

type switchRequest struct {
	On bool `json:"on"`
}

func (h *BridgeHandler) armHub(rw http.ResponseWriter, r *http.Request) {
	var req armingRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.Arm(r.Context(), req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) disarmHub(rw http.ResponseWriter, r *http.Request) {
	var req armingRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.Disarm(r.Context(), req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) hubNightMode(rw http.ResponseWriter, r *http.Request) {
	var req nightModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.SetNightMode(r.Context(), req.Enabled, req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) muteHub(rw http.ResponseWriter, r *http.Request) {
	if err := h.coord.Mute(r.Context()); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) restoreHub(rw http.ResponseWriter, r *http.Request) {
	if err := h.coord.RestoreAfterAlarm(r.Context()); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) armGroup(rw http.ResponseWriter, r *http.Request) {
	var req armingRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.ArmGroup(r.Context(), mux.Vars(r)["id"], req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) disarmGroup(rw http.ResponseWriter, r *http.Request) {
	var req armingRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.DisarmGroup(r.Context(), mux.Vars(r)["id"], req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) groupNightMode(rw http.ResponseWriter, r *http.Request) {
	var req nightModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.SetGroupNightMode(r.Context(), mux.Vars(r)["id"], req.Enabled, req.IgnoreProblems); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

func (h *BridgeHandler) switchDevice(rw http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.coord.SwitchDevice(r.Context(), mux.Vars(r)["id"], req.On); err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusAccepted, nil)
}

type listenerState struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

func (h *BridgeHandler) listenerStatus(rw http.ResponseWriter, r *http.Request) {
	status := listenerState{Enabled: h.listener != nil}
	if h.listener != nil {
		status.Running = h.listener.IsRunning()
	}

	respondJSON(rw, http.StatusOK, status)
}

func (h *BridgeHandler) listenerStart(rw http.ResponseWriter, r *http.Request) {
	if h.listener == nil {
		respondJSON(rw, http.StatusNotFound, errorResponse{Error: "no event listener configured"})
		return
	}

	h.listener.Start()
	respondJSON(rw, http.StatusOK, listenerState{Enabled: true, Running: h.listener.IsRunning()})
}

func (h *BridgeHandler) listenerStop(rw http.ResponseWriter, r *http.Request) {
	if h.listener == nil {
		respondJSON(rw, http.StatusNotFound, errorResponse{Error: "no event listener configured"})
		return
	}

	h.listener.Stop(r.Context())
	respondJSON(rw, http.StatusOK, listenerState{Enabled: true, Running: h.listener.IsRunning()})
}

// getSpaces lists the spaces visible to the configured credentials, so
// an operator can discover hub IDs without a separate tool
func (h *BridgeHandler) getSpaces(rw http.ResponseWriter, r *http.Request) {
	spaces, err := h.coord.Spaces(r.Context())
	if err != nil {
		respondError(rw, r, err)
		return
	}

	respondJSON(rw, http.StatusOK, spaces)
}

type credentialsResponse struct {
	SessionToken string `json:"sessionToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	UserID       string `json:"userId,omitempty"`
	NeedsReauth  bool   `json:"needsReauth"`
}

// getCredentials exports the rotated token set so an external
// collaborator can persist it across restarts
func (h *BridgeHandler) getCredentials(rw http.ResponseWriter, r *http.Request) {
	session, refresh, userID := h.coord.Credentials().Tokens()

	respondJSON(rw, http.StatusOK, credentialsResponse{
		SessionToken: session,
		RefreshToken: refresh,
		UserID:       userID,
		NeedsReauth:  h.coord.NeedsReauth(),
	})
}
