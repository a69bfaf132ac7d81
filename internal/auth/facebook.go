package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sakif/fixjam/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

// ErrBadSignedRequest means a fbsr_ cookie failed to decode or verify.
var ErrBadSignedRequest = errors.New("auth: bad facebook signed request")

// FacebookProvider verifies Facebook logins and talks to the Graph API.
//
// SIGNED REQUEST COOKIE:
// The Facebook JS SDK stores "fbsr_<appID>" = "<sig>.<payload>", both
// base64url. sig is HMAC-SHA256(payload, appSecret), and payload carries the
// Facebook user id plus a one-time code. A valid signature is the proof of
// login; the code is exchanged for a Graph token only when a profile fetch
// actually needs it.
type FacebookProvider struct {
	appID    string
	secret   []byte
	graphURL string
	config   *oauth2.Config
	http     *http.Client
}

// NewFacebookProvider builds a provider. graphURL is the Graph API root,
// e.g. "https://graph.facebook.com".
func NewFacebookProvider(appID, appSecret, graphURL string) *FacebookProvider {
	graphURL = strings.TrimRight(graphURL, "/")
	return &FacebookProvider{
		appID:    appID,
		secret:   []byte(appSecret),
		graphURL: graphURL,
		config: &oauth2.Config{
			ClientID:     appID,
			ClientSecret: appSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   facebook.Endpoint.AuthURL,
				TokenURL:  graphURL + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// CookieName is the signed-request cookie for this app.
func (p *FacebookProvider) CookieName() string {
	return "fbsr_" + p.appID
}

// SessionFromRequest returns the verified Facebook login of r, or nil when
// the request carries no signed-request cookie.
func (p *FacebookProvider) SessionFromRequest(r *http.Request) (*model.FacebookSession, error) {
	cookie, err := r.Cookie(p.CookieName())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return p.ParseSignedRequest(cookie.Value)
}

type signedRequest struct {
	Algorithm string `json:"algorithm"`
	Code      string `json:"code"`
	IssuedAt  int64  `json:"issued_at"`
	UserID    string `json:"user_id"`
}

// ParseSignedRequest verifies and decodes a signed request. A payload
// without user_id (the user has not authorized the app) yields nil, nil.
func (p *FacebookProvider) ParseSignedRequest(value string) (*model.FacebookSession, error) {
	encSig, encPayload, ok := strings.Cut(value, ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", ErrBadSignedRequest)
	}
	sig, err := decodeSegment(encSig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrBadSignedRequest, err)
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(encPayload))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrBadSignedRequest)
	}

	raw, err := decodeSegment(encPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadSignedRequest, err)
	}
	var sr signedRequest
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadSignedRequest, err)
	}
	if !strings.EqualFold(sr.Algorithm, "HMAC-SHA256") {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrBadSignedRequest, sr.Algorithm)
	}
	if sr.UserID == "" {
		return nil, nil
	}
	uid, err := strconv.ParseInt(sr.UserID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: user_id %q", ErrBadSignedRequest, sr.UserID)
	}
	return &model.FacebookSession{UID: uid, Code: sr.Code}, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// EncodeSignedRequest builds a cookie value the way the JS SDK does. It exists
// for tests and local tooling.
func (p *FacebookProvider) EncodeSignedRequest(uid int64, code string) string {
	payload, _ := json.Marshal(signedRequest{
		Algorithm: "HMAC-SHA256",
		Code:      code,
		IssuedAt:  time.Now().Unix(),
		UserID:    strconv.FormatInt(uid, 10),
	})
	encPayload := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(encPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)) + "." + encPayload
}

// Client returns a Graph API client bound to one request's login.
func (p *FacebookProvider) Client(sess *model.FacebookSession) *FacebookClient {
	return &FacebookClient{provider: p, session: sess}
}

// FacebookClient reads the logged-in user's Graph data. The code exchange
// happens at most once per client.
type FacebookClient struct {
	provider *FacebookProvider
	session  *model.FacebookSession

	mu    sync.Mutex
	token *oauth2.Token
}

func (c *FacebookClient) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil {
		return c.token, nil
	}
	if c.session == nil || c.session.Code == "" {
		return nil, errors.New("auth: facebook session has no code to exchange")
	}

	// Codes issued to the JS SDK were bound to an empty redirect_uri, and the
	// exchange must repeat it verbatim.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.provider.http)
	tok, err := c.provider.config.Exchange(ctx, c.session.Code, oauth2.SetAuthURLParam("redirect_uri", ""))
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging facebook code: %w", err)
	}
	c.token = tok
	return tok, nil
}

// Me calls GET /me?fields=id,name,location.
func (c *FacebookClient) Me(ctx context.Context) (*model.FacebookProfile, error) {
	var profile model.FacebookProfile
	if err := c.get(ctx, "/me", url.Values{"fields": {"id,name,location"}}, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, errors.New("auth: graph returned a profile without id")
	}
	return &profile, nil
}

// Pages lists the Graph objects the user is connected to: the places named
// in profile plus the first page of /me/likes. Objects are looked up again
// with GET /?ids=...; only those with a name and a fan count are pages.
func (c *FacebookClient) Pages(ctx context.Context, profile *model.FacebookProfile) ([]model.FacebookPage, error) {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if profile != nil && profile.Location != nil {
		add(profile.Location.ID)
	}

	var likes struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/me/likes", url.Values{"fields": {"id"}}, &likes); err != nil {
		return nil, err
	}
	for _, l := range likes.Data {
		add(l.ID)
	}
	if len(ids) == 0 {
		return []model.FacebookPage{}, nil
	}

	var objects map[string]struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		FanCount *int64 `json:"fan_count"`
	}
	query := url.Values{"ids": {strings.Join(ids, ",")}, "fields": {"id,name,fan_count"}}
	if err := c.get(ctx, "/", query, &objects); err != nil {
		return nil, err
	}

	pages := make([]model.FacebookPage, 0, len(ids))
	for _, id := range ids {
		o, ok := objects[id]
		if !ok || o.ID == "" || o.Name == "" || o.FanCount == nil {
			continue
		}
		pages = append(pages, model.FacebookPage{ID: o.ID, Name: o.Name, FanCount: *o.FanCount})
	}
	return pages, nil
}

// get calls the Graph API as the logged-in user and decodes a 200 response
// into dst.
func (c *FacebookClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.provider.http)
	client := c.provider.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.provider.graphURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("auth: building graph request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling graph %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: graph %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding graph %s response: %w", path, err)
	}
	return nil
}
