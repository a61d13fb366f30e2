// Package entity defines the entities and errors used in the application.
// It includes the Link struct, which represents a shortened link, along with its
// click statistics, and the errors shared between the store, usecase and delivery layers.
package entity

import (
	"errors"
	"time"
)

var (
	// ErrInvalidURL is returned when the destination is not an absolute http or https URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidCode is returned when a custom short code does not match the accepted syntax.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeExists is returned when attempting to create a link with a code that already exists.
	ErrCodeExists = errors.New("code already exists")
	// ErrCodeGenerationFailed is returned when no free code was found within the retry bound.
	ErrCodeGenerationFailed = errors.New("failed to generate code")
	// ErrLinkNotFound is returned when a link with the specified code cannot be found.
	ErrLinkNotFound = errors.New("link not found")
	// ErrStoreUnavailable is returned when the store failed or did not answer in time.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Link represents a shortened link.
type Link struct {
	Code      string    // Code is the short code the link is reachable under.
	URL       string    // URL is the destination the code redirects to.
	LinkStats           // LinkStats contains click statistics about the link.
	CreatedAt time.Time // CreatedAt is the timestamp when the link was created.
}

// LinkStats contains statistics related to a shortened link.
type LinkStats struct {
	Clicks      int64      // Clicks is the number of successful resolves of the code.
	LastClicked *time.Time // LastClicked is the time of the latest resolve, nil until the first one.
}
