// Package model defines the data structures used throughout the application.
package model

import "time"

// Kind names the provider behind an Account.
// The string values are stable: they are returned by the API and logged.
type Kind string

const (
	KindNative   Kind = "auth"
	KindFacebook Kind = "fb"
	KindTwitter  Kind = "twitter"
)

// Account is a tagged variant over the three credential sources.
//
// The only implementations are *NativeAccount, *FacebookAccount and
// *TwitterAccount. Provider-specific behavior (display name, remote id,
// location) is written as one type switch per behavior, not as methods on
// each account type.
type Account interface {
	Kind() Kind
	AccountID() string
	isAccount()
}

// NativeAccount is a username/password account owned by this application.
type NativeAccount struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FacebookAccount links a Facebook user id to this application.
// RemoteID is unique: one Facebook user maps to exactly one row.
type FacebookAccount struct {
	ID        string    `json:"id"`
	RemoteID  int64     `json:"remoteId"`
	DataCache DataCache `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TwitterAccount links a Twitter screen name and its OAuth credentials.
// ScreenName is unique.
type TwitterAccount struct {
	ID          string    `json:"id"`
	ScreenName  string    `json:"screenName"`
	OAuthToken  string    `json:"-"`
	OAuthSecret string    `json:"-"`
	DataCache   DataCache `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (*NativeAccount) Kind() Kind   { return KindNative }
func (*FacebookAccount) Kind() Kind { return KindFacebook }
func (*TwitterAccount) Kind() Kind  { return KindTwitter }

func (a *NativeAccount) AccountID() string   { return a.ID }
func (a *FacebookAccount) AccountID() string { return a.ID }
func (a *TwitterAccount) AccountID() string  { return a.ID }

func (*NativeAccount) isAccount()   {}
func (*FacebookAccount) isAccount() {}
func (*TwitterAccount) isAccount()  {}
