package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/fixjam/internal/model"
	"golang.org/x/oauth2"
)

// TwitterProvider wraps golang.org/x/oauth2 for Twitter's Authorization Code
// flow with PKCE.
//
// FLOW:
//  1. AuthURL sends the user to Twitter with a random state and the S256
//     challenge of a verifier that only the server knows.
//  2. Twitter redirects back with a code; Exchange trades code + verifier
//     for a token pair and asks /2/users/me who the user is.
//  3. The screen name keys the stored TwitterAccount; the token pair is kept
//     on it so later profile fetches can act as the user.
type TwitterProvider struct {
	config *oauth2.Config
	apiURL string
	http   *http.Client
}

type TwitterEndpoints struct {
	AuthURL  string
	TokenURL string
	APIURL   string
}

func NewTwitterProvider(clientID, clientSecret, callbackURL string, ep TwitterEndpoints) *TwitterProvider {
	return &TwitterProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL: strings.TrimRight(ep.APIURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL returns the consent URL for state and the PKCE verifier.
func (p *TwitterProvider) AuthURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// TwitterAccessToken is the result of a completed Twitter login.
type TwitterAccessToken struct {
	ScreenName string
	Token      string
	Secret     string
	Profile    *model.TwitterProfile
}

// Exchange completes the login: code + verifier → token pair → profile.
func (p *TwitterProvider) Exchange(ctx context.Context, code, verifier string) (*TwitterAccessToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging twitter code: %w", err)
	}

	profile, err := p.me(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &TwitterAccessToken{
		ScreenName: profile.ScreenName,
		Token:      tok.AccessToken,
		Secret:     tok.RefreshToken,
		Profile:    profile,
	}, nil
}

// Profile fetches the current profile of a stored account using its tokens.
func (p *TwitterProvider) Profile(ctx context.Context, account *model.TwitterAccount) (*model.TwitterProfile, error) {
	if account.OAuthToken == "" {
		return nil, errors.New("auth: twitter account has no access token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	return p.me(ctx, p.storedToken(account))
}

// PostStatus tweets text as account with POST /2/tweets.
func (p *TwitterProvider) PostStatus(ctx context.Context, account *model.TwitterAccount, text string) (*model.TwitterStatus, error) {
	if account.OAuthToken == "" {
		return nil, errors.New("auth: twitter account has no access token")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("auth: encoding tweet: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	client := p.config.Client(ctx, p.storedToken(account))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("auth: building twitter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling twitter /2/tweets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: twitter /2/tweets returned status %d", resp.StatusCode)
	}

	var body struct {
		Data model.TwitterStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("auth: decoding twitter /2/tweets response: %w", err)
	}
	if body.Data.ID == "" {
		return nil, errors.New("auth: twitter returned a status without id")
	}
	return &body.Data, nil
}

func (p *TwitterProvider) storedToken(account *model.TwitterAccount) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  account.OAuthToken,
		RefreshToken: account.OAuthSecret,
		TokenType:    "Bearer",
	}
}

func (p *TwitterProvider) me(ctx context.Context, tok *oauth2.Token) (*model.TwitterProfile, error) {
	client := p.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.apiURL+"/2/users/me?user.fields=name,location,profile_image_url", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building twitter request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling twitter /2/users/me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: twitter /2/users/me returned status %d", resp.StatusCode)
	}

	var body struct {
		Data model.TwitterProfile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("auth: decoding twitter /2/users/me response: %w", err)
	}
	if body.Data.ScreenName == "" {
		return nil, errors.New("auth: twitter returned a profile without username")
	}
	return &body.Data, nil
}
