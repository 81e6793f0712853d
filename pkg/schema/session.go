package schema

import (
	"errors"
	"fmt"
)

// Session identifies a room: every participant that joined with the same project name and language receives the
// same events. Comparison is exact and case-sensitive.
type Session struct {
	ProjectName string `json:"projectName"`
	Language    string `json:"language"`
}

func (s Session) Validate() error {
	if s.ProjectName == "" {
		return fmt.Errorf("%w: projectName is required", ErrMalformed)
	}
	if s.Language == "" {
		return fmt.Errorf("%w: language is required", ErrMalformed)
	}
	return nil
}

// Room is the key used by the relay and the bus for this session.
func (s Session) Room() string {
	return s.ProjectName + ":" + s.Language
}

// Matches reports whether other refers to the same room.
func (s Session) Matches(other Session) bool {
	return s.ProjectName == other.ProjectName && s.Language == other.Language
}

func (s Session) String() string {
	return s.Room()
}

// FileEntry is a single file in a project. Filename is unique within a collection.
type FileEntry struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

var (
	// ErrMalformed marks a payload that does not have the shape required by its event type.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownEvent marks an envelope whose tag is not one of the known event types.
	ErrUnknownEvent = errors.New("unknown event")
)
