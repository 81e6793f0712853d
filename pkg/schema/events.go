package schema

import "fmt"

// EventType is the tag carried in every envelope on the real-time channel.
type EventType string

const (
	EventJoin       EventType = "join"
	EventFileList   EventType = "file_list"
	EventCodeUpdate EventType = "code_update"
	EventCreateFile EventType = "create_file"
	EventRenameFile EventType = "rename_file"
	EventDeleteFile EventType = "delete_file"
)

// Event is the closed set of messages exchanged with the transport. The concrete types are Join, FileList,
// CodeUpdate, CreateFile, RenameFile and DeleteFile.
type Event interface {
	Type() EventType
	Validate() error

	// Scope returns the room the event is addressed to. ok is false when the payload does not name one, which is
	// only legal for FileList.
	Scope() (s Session, ok bool)
}

type Join struct {
	Session
}

func (Join) Type() EventType          { return EventJoin }
func (e Join) Validate() error        { return e.Session.Validate() }
func (e Join) Scope() (Session, bool) { return e.Session, true }

// FileList is the authoritative snapshot of a room. ProjectName and Language are optional on the wire; when
// present they are subject to the same room filter as every other inbound event.
type FileList struct {
	ProjectName string      `json:"projectName,omitempty"`
	Language    string      `json:"language,omitempty"`
	Files       []FileEntry `json:"files"`
}

func (FileList) Type() EventType { return EventFileList }

func (e FileList) Validate() error {
	if (e.ProjectName == "") != (e.Language == "") {
		return fmt.Errorf("%w: file_list must carry both projectName and language or neither", ErrMalformed)
	}
	for i, f := range e.Files {
		if f.Filename == "" {
			return fmt.Errorf("%w: file_list entry %d has no filename", ErrMalformed, i)
		}
	}
	return nil
}

func (e FileList) Scope() (Session, bool) {
	if e.ProjectName == "" && e.Language == "" {
		return Session{}, false
	}
	return Session{ProjectName: e.ProjectName, Language: e.Language}, true
}

type CodeUpdate struct {
	Session
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (CodeUpdate) Type() EventType          { return EventCodeUpdate }
func (e CodeUpdate) Scope() (Session, bool) { return e.Session, true }

func (e CodeUpdate) Validate() error {
	if err := e.Session.Validate(); err != nil {
		return err
	}
	return requireName("filename", e.Filename)
}

type CreateFile struct {
	Session
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (CreateFile) Type() EventType          { return EventCreateFile }
func (e CreateFile) Scope() (Session, bool) { return e.Session, true }

func (e CreateFile) Validate() error {
	if err := e.Session.Validate(); err != nil {
		return err
	}
	return requireName("filename", e.Filename)
}

type RenameFile struct {
	Session
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

func (RenameFile) Type() EventType          { return EventRenameFile }
func (e RenameFile) Scope() (Session, bool) { return e.Session, true }

func (e RenameFile) Validate() error {
	if err := e.Session.Validate(); err != nil {
		return err
	}
	if err := requireName("oldName", e.OldName); err != nil {
		return err
	}
	return requireName("newName", e.NewName)
}

type DeleteFile struct {
	Session
	Filename string `json:"filename"`
}

func (DeleteFile) Type() EventType          { return EventDeleteFile }
func (e DeleteFile) Scope() (Session, bool) { return e.Session, true }

func (e DeleteFile) Validate() error {
	if err := e.Session.Validate(); err != nil {
		return err
	}
	return requireName("filename", e.Filename)
}

func requireName(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrMalformed, field)
	}
	return nil
}
