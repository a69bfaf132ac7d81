package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/fixjam/internal/middleware"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/service"
)

// IdentityReader is the part of service.IdentityService that MeHandler uses.
type IdentityReader interface {
	RemoteID(ident *model.Identity) string
	DisplayNameOrUnknown(ctx context.Context, ident *model.Identity, clients service.Clients) string
	ProfileImageURL(ctx context.Context, ident *model.Identity, clients service.Clients) (string, error)
	Location(ctx context.Context, ident *model.Identity, clients service.Clients) (*model.Place, error)
	Pages(ctx context.Context, ident *model.Identity, clients service.Clients) ([]model.FacebookPage, error)
	SendStatusUpdate(ctx context.Context, ident *model.Identity, clients service.Clients, text string) (*model.TwitterStatus, error)
}

// MeHandler describes the identity behind the current request.
// All of its routes sit behind middleware.RequireIdentity.
type MeHandler struct {
	identities IdentityReader
	logger     *slog.Logger
}

func NewMeHandler(identities IdentityReader, logger *slog.Logger) *MeHandler {
	return &MeHandler{identities: identities, logger: logger}
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	ID              string       `json:"id"`
	Kind            model.Kind   `json:"kind"`
	RemoteID        string       `json:"remoteId"`
	DisplayName     string       `json:"displayName"`
	ProfileImageURL string       `json:"profileImageUrl,omitempty"`
	Location        *model.Place `json:"location,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// HandleMe returns the current identity.
//
// HTTP: GET /api/me
//
// The display name never fails the request: a provider outage shows as
// "unknown". The location is only what is already stored; deriving it may
// call two remote services, so that is left to /api/me/location.
func (h *MeHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident := middleware.IdentityFromContext(ctx)
	clients := middleware.ClientsFromContext(ctx)

	image, err := h.identities.ProfileImageURL(ctx, ident, clients)
	if err != nil {
		h.logger.Warn("profile image unavailable",
			slog.String("identityID", ident.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, MeResponse{
		ID:              ident.ID,
		Kind:            ident.Kind(),
		RemoteID:        h.identities.RemoteID(ident),
		DisplayName:     h.identities.DisplayNameOrUnknown(ctx, ident, clients),
		ProfileImageURL: image,
		Location:        ident.Location,
		CreatedAt:       ident.CreatedAt,
	})
}

// HandleLocation derives (once) and returns where the identity lives.
//
// HTTP: GET /api/me/location
// RESPONSE: {"location": {"name": "Oakland, CA", "lat": 37.8, "long": -122.27}}
// or {"location": null} when nothing could be derived.
func (h *MeHandler) HandleLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident := middleware.IdentityFromContext(ctx)

	place, err := h.identities.Location(ctx, ident, middleware.ClientsFromContext(ctx))
	if err != nil {
		h.logger.Error("deriving location",
			slog.String("identityID", ident.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*model.Place{"location": place})
}

// HandlePages lists the Facebook pages the identity is connected to.
//
// HTTP: GET /api/me/pages
// RESPONSE: {"pages": [{"id": "201", "name": "Central Perk", "fan_count": 12}]}
// Identities other than Facebook get an empty list.
func (h *MeHandler) HandlePages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident := middleware.IdentityFromContext(ctx)

	pages, err := h.identities.Pages(ctx, ident, middleware.ClientsFromContext(ctx))
	if err != nil {
		h.logger.Warn("listing pages",
			slog.String("identityID", ident.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	if pages == nil {
		pages = []model.FacebookPage{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.FacebookPage{"pages": pages})
}

type statusRequest struct {
	Status string `json:"status"`
}

// HandleStatus posts a status update for a Twitter identity.
//
// HTTP: POST /api/me/status
// REQUEST BODY: {"status": "fixed the sink at 5B"}
// RESPONSE: 201 {"id": "1001", "text": "fixed the sink at 5B"}
func (h *MeHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	ident := middleware.IdentityFromContext(ctx)
	status, err := h.identities.SendStatusUpdate(ctx, ident, middleware.ClientsFromContext(ctx), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// Pinger is anything that can report its own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports whether the database answers.
//
// HTTP: GET /healthz
func HandleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
