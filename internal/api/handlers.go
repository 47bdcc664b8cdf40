package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/contactlink/internal/apperr"
	"github.com/starford/contactlink/internal/identity"
	"github.com/starford/contactlink/internal/models"
)

// Response messages kept stable for existing clients.
const (
	msgRequired       = "Email or phoneNumber is required"
	msgInvalidJSON    = "invalid JSON body"
	msgUnavailable    = "Service Unavailable"
	msgInternal       = "Internal Server Error"
	msgNotFound       = "contact not found"
	msgInvalidContact = "invalid contact id"
)

// Engine is the consolidation engine as seen by the handlers.
type Engine interface {
	Identify(ctx context.Context, req identity.Request) (*models.ConsolidatedIdentity, error)
	Cluster(ctx context.Context, id int64) (*models.ConsolidatedIdentity, error)
}

// Handler holds API route handlers.
type Handler struct {
	engine Engine
}

// NewHandler creates a new Handler.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Identify handles POST /identify.
//
//	@Summary		Resolve a contact to its consolidated identity
//	@Tags			identify
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IdentifyRequest	true	"Email and/or phone number"
//	@Success		200		{object}	IdentifyResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identify [post]
func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidJSON))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	contact, err := h.engine.Identify(r.Context(), req.toEngine())
	if err != nil {
		h.writeEngineError(w, r, "identify", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifyResponse{Contact: contact})
}

// GetContact handles GET /contacts/{id}.
//
//	@Summary		Get the consolidated identity of a contact's cluster
//	@Tags			identify
//	@Produce		json
//	@Param			id	path		int	true	"Primary or secondary contact id"
//	@Success		200	{object}	IdentifyResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contacts/{id} [get]
func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidContact))
		return
	}

	contact, err := h.engine.Cluster(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "get contact", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifyResponse{Contact: contact})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody(msgRequired))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(msgNotFound))
	case errors.Is(err, apperr.ErrStoreUnavailable):
		slog.Warn(op+" failed", slog.String("error", err.Error()), slog.String("request_id", requestID(r)))
		writeJSON(w, http.StatusServiceUnavailable, errorBody(msgUnavailable))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()), slog.String("request_id", requestID(r)))
		writeJSON(w, http.StatusInternalServerError, errorBody(msgInternal))
	}
}

const helpPage = `<!DOCTYPE html>
<html>
<head><title>contactlink</title></head>
<body>
<h2>Server is running!</h2>
<p>Try making a <code>POST</code> request to <code>/identify</code>.</p>
<p>Example request body:</p>
<pre>
{
  "email": "someone@example.com",
  "phoneNumber": "1234567890"
}
</pre>
</body>
</html>
`

// Help handles GET /.
func (h *Handler) Help(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(helpPage))
}
