// Package history stores the multi-turn exchange with the generation engine.
//
// Turns are opaque: the engine owns their shape and may attach continuation
// fields (signatures, ids) that must come back byte for byte on the next
// request. The codec only checks that each turn is a JSON object and never
// rewrites one.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptHistory is returned when a stored history cannot be decoded.
var ErrCorruptHistory = errors.New("corrupt conversation history")

// Turn is one user or engine turn, kept verbatim.
type Turn json.RawMessage

// MarshalJSON writes the turn unchanged.
func (t Turn) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return []byte("null"), nil
	}
	return t, nil
}

// UnmarshalJSON keeps a copy of the raw bytes.
func (t *Turn) UnmarshalJSON(data []byte) error {
	*t = append((*t)[0:0], data...)
	return nil
}

// Role returns the turn's "role" field, or "" when absent.
func (t Turn) Role() string {
	var fields struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(t, &fields); err != nil {
		return ""
	}
	return fields.Role
}

// History is an append-only, ordered list of turns.
type History []Turn

// UserTurn builds the turn appended for a prompt or edit request.
func UserTurn(text string) Turn {
	return UserTurnWithImages(text, nil)
}

// UserTurnWithImages builds a user turn that refers to stored reference
// images by artifact path. The images themselves are attached each time the
// turn is sent, so the stored history stays small.
func UserTurnWithImages(text string, imagePaths []string) Turn {
	b, _ := json.Marshal(struct {
		Role   string   `json:"role"`
		Text   string   `json:"text"`
		Images []string `json:"images,omitempty"`
	}{Role: "user", Text: text, Images: imagePaths})
	return Turn(b)
}

// ImagePaths returns the reference image paths carried by a user turn built
// with UserTurnWithImages. Other turns carry none.
func (t Turn) ImagePaths() []string {
	var fields struct {
		Role   string   `json:"role"`
		Images []string `json:"images"`
	}
	if err := json.Unmarshal(t, &fields); err != nil || fields.Role != "user" {
		return nil
	}
	return fields.Images
}

// Decode parses a stored history. A value that was stored as a JSON string
// (double encoded) gets exactly one more decode attempt.
func Decode(raw []byte) (History, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 || raw[0] != '[' {
			return nil, fmt.Errorf("%w: decoded string is not an array", ErrCorruptHistory)
		}
	}

	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks that every turn is a well formed JSON object.
func (h History) Validate() error {
	for i, t := range h {
		trimmed := bytes.TrimSpace(t)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: turn %d is not a JSON object", ErrCorruptHistory, i)
		}
	}
	return nil
}

// Append returns a new history with turns added. The receiver is not modified,
// even when it has spare capacity.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	for _, t := range turns {
		out = append(out, append(Turn(nil), t...))
	}
	return out
}

// Encode produces the JSON array stored on a generation.
func (h History) Encode() (json.RawMessage, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	// Turns are joined by hand: json.Marshal would compact and HTML-escape them.
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, t := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(bytes.TrimSpace(t))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Len returns the number of turns.
func (h History) Len() int { return len(h) }
