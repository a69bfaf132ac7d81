package model

// FacebookPlace is the "location" object of a Graph API profile.
type FacebookPlace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FacebookProfile is the subset of GET /me that the application reads.
type FacebookProfile struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Location *FacebookPlace `json:"location,omitempty"`
}

// TwitterProfile is the subset of GET /2/users/me that the application reads.
// Location is free text typed by the user.
type TwitterProfile struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ScreenName      string `json:"username"`
	Location        string `json:"location"`
	ProfileImageURL string `json:"profile_image_url"`
}

// FacebookPage is a Graph object the user is connected to that has fans:
// a liked page, or a place named in the profile.
type FacebookPage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FanCount int64  `json:"fan_count"`
}

// TwitterStatus is a posted tweet as returned by POST /2/tweets.
type TwitterStatus struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MaxStatusLength is Twitter's limit for one status update, in characters.
const MaxStatusLength = 280
