package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/hubwatch/ajax-bridge/internal/pkg/ajaxapi"
	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/pkg/errors"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error    string          `json:"error"`
	Problems json.RawMessage `json:"problems,omitempty"`
}

func respondJSON(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if body == nil {
		return
	}
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		logging.Logger(nil).WithError(err).Error("encoding response")
	}
}

// decodeBody parses an optional JSON request body into out. An empty
// body leaves out at its zero value.
func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))

	// io.EOF means no body at all, which is fine
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decoding request body")
	}
	return nil
}

// respondError maps the client error taxonomy onto HTTP statuses:
// auth failures 401, blocked preconditions 409 with the problems
// payload, transport failures 502, everything else 500.
func respondError(rw http.ResponseWriter, r *http.Request, err error) {
	var authErr *ajaxapi.AuthError
	var precondErr *ajaxapi.PreconditionError
	var connErr *ajaxapi.ConnectionError
	var apiErr *ajaxapi.APIError

	switch {
	case errors.As(err, &authErr):
		respondJSON(rw, http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
	case errors.As(err, &precondErr):
		respondJSON(rw, http.StatusConflict, errorResponse{
			Error:    precondErr.Error(),
			Problems: precondErr.Body,
		})
	case errors.As(err, &connErr):
		respondJSON(rw, http.StatusBadGateway, errorResponse{Error: connErr.Error()})
	case errors.As(err, &apiErr):
		respondJSON(rw, http.StatusBadGateway, errorResponse{Error: apiErr.Error()})
	default:
		logging.Logger(r.Context()).WithError(err).Error("request failed")
		respondJSON(rw, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
