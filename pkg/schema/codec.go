package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the frame written to the real-time channel: a tag plus the tag-specific payload.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// requiredFields lists the payload keys that must be present for each event type. Presence is checked separately
// from emptiness so that, for example, a code_update without a content key is rejected instead of wiping the file.
var requiredFields = map[EventType][]string{
	EventJoin:       {"projectName", "language"},
	EventFileList:   {"files"},
	EventCodeUpdate: {"projectName", "language", "filename", "content"},
	EventCreateFile: {"projectName", "language", "filename"},
	EventRenameFile: {"projectName", "language", "oldName", "newName"},
	EventDeleteFile: {"projectName", "language", "filename"},
}

// Encode frames ev in an Envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Event: ev.Type(), Data: data})
}

// Decode parses and validates one frame. Unknown tags return ErrUnknownEvent; payloads of the wrong shape return
// ErrMalformed. Callers are expected to drop the frame in both cases.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DecodePayload(env.Event, env.Data)
}

// DecodePayload decodes the payload of an event whose tag has already been read.
func DecodePayload(tag EventType, data json.RawMessage) (Event, error) {
	required, ok := requiredFields[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, tag)
	}

	// A bare array is accepted as a file_list payload.
	if tag == EventFileList && bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var files []FileEntry
		if err := json.Unmarshal(data, &files); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		ev := FileList{Files: files}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return ev, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	for _, key := range required {
		v, ok := keys[key]
		if !ok || bytes.Equal(v, []byte("null")) {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrMalformed, tag, key)
		}
	}

	var (
		ev  Event
		err error
	)
	switch tag {
	case EventJoin:
		ev, err = unmarshalAs[Join](data)
	case EventFileList:
		ev, err = unmarshalAs[FileList](data)
	case EventCodeUpdate:
		ev, err = unmarshalAs[CodeUpdate](data)
	case EventCreateFile:
		ev, err = unmarshalAs[CreateFile](data)
	case EventRenameFile:
		ev, err = unmarshalAs[RenameFile](data)
	case EventDeleteFile:
		ev, err = unmarshalAs[DeleteFile](data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func unmarshalAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
