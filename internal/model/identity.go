package model

import "time"

// Identity is the canonical account of one real person ("MultiUser").
//
// A stored Identity links exactly one Account. The link is unique in the
// store: a provider account belongs to at most one Identity. Identities are
// never merged and never deleted here.
type Identity struct {
	ID         string    `json:"id"`
	Account    Account   `json:"-"`
	Location   *Place    `json:"location,omitempty"`
	Banned     bool      `json:"banned"`
	AdminNotes string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Anonymous is the identity of a request that presented no proofs.
// It is a singleton and is never persisted.
var Anonymous = &Identity{}

// IsAuthenticated is false only for Anonymous (and nil).
func (i *Identity) IsAuthenticated() bool {
	return i != nil && i != Anonymous
}

// Kind returns the provider kind of the linked account, or "" for Anonymous.
func (i *Identity) Kind() Kind {
	if !i.IsAuthenticated() || i.Account == nil {
		return ""
	}
	return i.Account.Kind()
}

// Place is a location copied by value onto an Identity.
// Once set it is never re-derived.
type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// FacebookSession is a verified Facebook login taken from the signed cookie.
// Code is the one-time authorization code the cookie carries; it is traded
// for an access token only when the Graph API is actually needed.
type FacebookSession struct {
	UID  int64
	Code string
}

// Proofs is the set of credential proofs presented with one request.
// Each non-nil field has already been verified by the request layer.
type Proofs struct {
	Native   *NativeAccount
	Facebook *FacebookSession
	Twitter  *TwitterAccount
}

// Count returns how many proofs are present.
func (p Proofs) Count() int {
	n := 0
	if p.Native != nil {
		n++
	}
	if p.Facebook != nil {
		n++
	}
	if p.Twitter != nil {
		n++
	}
	return n
}
