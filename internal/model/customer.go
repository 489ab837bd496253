package model

import "time"

// Customer is the minimal identity record the pipeline resolves phones to.
type Customer struct {
	ID           string    `json:"id"`
	AccountToken string    `json:"account_token"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email,omitempty"`
	Commercial   bool      `json:"commercial"`
	Location     *GeoPoint `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MatchType reports how a customer match was obtained.
type MatchType string

const (
	MatchNone    MatchType = "none"
	MatchMatched MatchType = "matched"
	MatchCreated MatchType = "created"
)

// MatchResult is the outcome of a customer match.
type MatchResult struct {
	Customer  *Customer `json:"customer,omitempty"`
	MatchType MatchType `json:"match_type"`
	Fuzzy     bool      `json:"fuzzy,omitempty"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
