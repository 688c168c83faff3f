// Package engine is the boundary to the external image generation model.
package engine

import (
	"context"
	"errors"

	"genplane/internal/history"
)

// ErrNoImage is returned when the model answered without an image.
var ErrNoImage = errors.New("engine returned no image")

// Image is an inline image sent to or received from the model.
type Image struct {
	Data     []byte
	MimeType string
}

// Request is one turn sent to the model.
type Request struct {
	// History holds the previous turns, verbatim. Empty for a fresh generation.
	History history.History
	// HistoryImages holds the images for user turns in History that refer to
	// reference images, indexed like History. Entries may be nil.
	HistoryImages [][]Image
	// Turn is the new user turn, usually built with history.UserTurn.
	Turn            history.Turn
	ReferenceImages []Image
	Resolution      string
}

// Response carries the model's turn exactly as returned, plus the decoded image.
type Response struct {
	Turn     history.Turn
	Image    []byte
	MimeType string
}

// Engine generates or edits an image from a conversation.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
