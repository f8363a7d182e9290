package store

import "time"

// Filter narrows a history query. Zero fields match everything. Name
// matches are case-insensitive.
type Filter struct {
	LogPath    string
	Collection string
	Deployable string
	Actor      string
	FailedOnly bool
	Since      time.Time
	// Limit keeps only the most recent N matches. Zero means no limit.
	Limit int
}

// Counts summarizes indexed records.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
}
