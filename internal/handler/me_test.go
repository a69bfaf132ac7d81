package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/handler"
	"github.com/sakif/fixjam/internal/middleware"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/service"
)

// MockIdentities returns canned answers for any identity.
type MockIdentities struct {
	Name        string
	Image       string
	ImageErr    error
	Place       *model.Place
	LocationErr error
	PageList    []model.FacebookPage
	PagesErr    error
	Posted      []string
	StatusErr   error
}

func (m *MockIdentities) RemoteID(ident *model.Identity) string { return "remote-" + ident.ID }

func (m *MockIdentities) DisplayNameOrUnknown(context.Context, *model.Identity, service.Clients) string {
	return m.Name
}

func (m *MockIdentities) ProfileImageURL(context.Context, *model.Identity, service.Clients) (string, error) {
	return m.Image, m.ImageErr
}

func (m *MockIdentities) Location(context.Context, *model.Identity, service.Clients) (*model.Place, error) {
	return m.Place, m.LocationErr
}

func (m *MockIdentities) Pages(context.Context, *model.Identity, service.Clients) ([]model.FacebookPage, error) {
	return m.PageList, m.PagesErr
}

func (m *MockIdentities) SendStatusUpdate(_ context.Context, _ *model.Identity, _ service.Clients, text string) (*model.TwitterStatus, error) {
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	m.Posted = append(m.Posted, text)
	return &model.TwitterStatus{ID: "1001", Text: text}, nil
}

func requestAs(ident *model.Identity, path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	return req.WithContext(middleware.WithIdentity(req.Context(), ident, service.Clients{}))
}

func TestMeHandler_HandleMe(t *testing.T) {
	ident := &model.Identity{ID: "id-1", Account: &model.TwitterAccount{ID: "t1", ScreenName: "chandler"}}

	t.Run("describes the identity", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{Name: "Chandler B", Image: "https://img/x.png"}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleMe(rr, requestAs(ident, "/api/me"))

		assert.Equal(t, http.StatusOK, rr.Code)
		var body handler.MeResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "id-1", body.ID)
		assert.Equal(t, model.KindTwitter, body.Kind)
		assert.Equal(t, "remote-id-1", body.RemoteID)
		assert.Equal(t, "Chandler B", body.DisplayName)
		assert.Equal(t, "https://img/x.png", body.ProfileImageURL)
	})

	t.Run("image failure still answers", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{
			Name:     service.UnknownName,
			ImageErr: apperror.ProviderFetch("twitter", errors.New("down")),
		}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleMe(rr, requestAs(ident, "/api/me"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"displayName":"unknown"`)
	})
}

func TestMeHandler_HandleLocation(t *testing.T) {
	ident := &model.Identity{ID: "id-1", Account: &model.FacebookAccount{ID: "f1", RemoteID: 42}}

	t.Run("found", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{Place: &model.Place{Name: "Oakland, CA", Lat: 37.8, Long: -122.27}}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleLocation(rr, requestAs(ident, "/api/me/location"))

		assert.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Location *model.Place `json:"location"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.NotNil(t, body.Location)
		assert.Equal(t, "Oakland, CA", body.Location.Name)
	})

	t.Run("none is null", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleLocation(rr, requestAs(ident, "/api/me/location"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"location":null}`, rr.Body.String())
	})

	t.Run("store failure is 500", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{LocationErr: errors.New("disk full")}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleLocation(rr, requestAs(ident, "/api/me/location"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "disk full")
	})

	t.Run("banned maps to 603", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{LocationErr: apperror.Banned("id-1")}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleLocation(rr, requestAs(ident, "/api/me/location"))

		assert.Equal(t, middleware.StatusBanned, rr.Code)
		assert.Equal(t, middleware.BannedBody, rr.Body.String())
	})
}

func TestMeHandler_HandlePages(t *testing.T) {
	ident := &model.Identity{ID: "id-1", Account: &model.FacebookAccount{ID: "f1", RemoteID: 42}}

	t.Run("lists pages", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{PageList: []model.FacebookPage{{ID: "201", Name: "Central Perk", FanCount: 12}}}, testLogger())
		rr := httptest.NewRecorder()

		h.HandlePages(rr, requestAs(ident, "/api/me/pages"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"pages":[{"id":"201","name":"Central Perk","fan_count":12}]}`, rr.Body.String())
	})

	t.Run("none is an empty list", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{}, testLogger())
		rr := httptest.NewRecorder()

		h.HandlePages(rr, requestAs(ident, "/api/me/pages"))

		assert.JSONEq(t, `{"pages":[]}`, rr.Body.String())
	})

	t.Run("provider failure is 502", func(t *testing.T) {
		h := handler.NewMeHandler(&MockIdentities{PagesErr: apperror.ProviderFetch("facebook", errors.New("down"))}, testLogger())
		rr := httptest.NewRecorder()

		h.HandlePages(rr, requestAs(ident, "/api/me/pages"))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})
}

func TestMeHandler_HandleStatus(t *testing.T) {
	ident := &model.Identity{ID: "id-1", Account: &model.TwitterAccount{ID: "t1", ScreenName: "chandler"}}
	post := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/me/status", bytes.NewBufferString(body))
		return req.WithContext(middleware.WithIdentity(req.Context(), ident, service.Clients{}))
	}

	t.Run("created", func(t *testing.T) {
		m := &MockIdentities{}
		h := handler.NewMeHandler(m, testLogger())
		rr := httptest.NewRecorder()

		h.HandleStatus(rr, post(`{"status":"fixed the sink at 5B"}`))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"id":"1001","text":"fixed the sink at 5B"}`, rr.Body.String())
		assert.Equal(t, []string{"fixed the sink at 5B"}, m.Posted)
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			body string
			want int
		}{
			{"malformed body", nil, `{"status":`, http.StatusBadRequest},
			{"empty status", apperror.ValidationFailed("status", "must not be empty"), `{"status":""}`, http.StatusBadRequest},
			{"not a twitter login", apperror.Forbidden("status updates need a twitter login"), `{"status":"hi"}`, http.StatusForbidden},
			{"twitter down", apperror.ProviderFetch("twitter", errors.New("down")), `{"status":"hi"}`, http.StatusBadGateway},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := handler.NewMeHandler(&MockIdentities{StatusErr: tt.err}, testLogger())
				rr := httptest.NewRecorder()

				h.HandleStatus(rr, post(tt.body))

				assert.Equal(t, tt.want, rr.Code)
			})
		}
	})
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.HandleHealth(stubPinger{})(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.HandleHealth(stubPinger{err: errors.New("closed")})(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
