package collab

import (
	"fmt"
	"strings"

	"github.com/astromechza/codecollab/pkg/replica"
	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/throttle"
)

// Locally initiated actions. Each validates against the replica first and leaves state untouched on failure.
// The event is emitted before the replica is mutated so that a transport failure also leaves state untouched.

// CreateFile adds a file, tells the room, and selects it.
func (e *Engine) CreateFile(filename, content string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return replica.ErrEmptyFilename
	}
	if e.files.Has(filename) {
		return fmt.Errorf("%w: %s", replica.ErrExists, filename)
	}
	if err := e.emitter.Emit(schema.CreateFile{Session: e.session, Filename: filename, Content: content}); err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	if err := e.files.Create(filename, content); err != nil {
		return err
	}
	e.enter(filename)
	e.changed()
	return nil
}

// ImportFile opens a file from outside the project: an existing name is simply selected, anything else is
// created with the given content.
func (e *Engine) ImportFile(filename, content string) error {
	if e.files.Has(filename) {
		return e.Select(filename)
	}
	return e.CreateFile(filename, content)
}

// RenameFile renames a file in place. Renaming onto an existing name is refused.
func (e *Engine) RenameFile(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return replica.ErrEmptyFilename
	}
	if !e.files.Has(oldName) {
		return fmt.Errorf("%w: %s", replica.ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if e.files.Has(newName) {
		return fmt.Errorf("%w: %s", replica.ErrExists, newName)
	}
	if err := e.emitter.Emit(schema.RenameFile{Session: e.session, OldName: oldName, NewName: newName}); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldName, err)
	}
	if err := e.files.Rename(oldName, newName); err != nil {
		return err
	}
	e.followRename(oldName, newName)
	e.changed()
	return nil
}

// DeleteFile removes a file. Deleting the selected file leaves the surface cleared and nothing selected.
func (e *Engine) DeleteFile(filename string) error {
	if !e.files.Has(filename) {
		return fmt.Errorf("%w: %s", replica.ErrNotFound, filename)
	}
	if err := e.emitter.Emit(schema.DeleteFile{Session: e.session, Filename: filename}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	if err := e.files.Delete(filename); err != nil {
		return err
	}
	if e.selection.Is(filename) {
		e.unselect()
	}
	e.changed()
	return nil
}

// DeleteSelected deletes the active file.
func (e *Engine) DeleteSelected() error {
	name, ok := e.selection.Active()
	if !ok {
		return ErrNoSelection
	}
	return e.DeleteFile(name)
}

// Select makes filename the active file and loads it into the surface, discarding whatever the surface held. A
// pending propagation for the previously active file is dropped.
func (e *Engine) Select(filename string) error {
	if !e.files.Has(filename) {
		return fmt.Errorf("%w: %s", replica.ErrNotFound, filename)
	}
	if e.selection.Is(filename) {
		return nil
	}
	e.enter(filename)
	e.changed()
	return nil
}

// Edited must be called after the user changed the surface content. The replica picks up the new content at
// once; the room hears about it after the quiescence window. Programmatic writes made by the Engine itself must
// not be reported.
func (e *Engine) Edited() {
	name, ok := e.selection.Active()
	if !ok {
		return
	}
	content := e.surface.Content()
	e.files.Update(name, content)
	e.throttle.Touch(name, content)
}

// propagate is the throttle's fire callback.
func (e *Engine) propagate(edit throttle.PendingEdit) {
	if !e.selection.Is(edit.Filename) || !e.files.Has(edit.Filename) {
		e.logger.Debug("dropping propagation for inactive file", "filename", edit.Filename)
		return
	}
	// The surface is the freshest copy of the active file: a remote update that landed during the window has
	// already been written to it.
	content := e.surface.Content()
	e.files.Update(edit.Filename, content)
	if err := e.emitter.Emit(schema.CodeUpdate{Session: e.session, Filename: edit.Filename, Content: content}); err != nil {
		e.report(fmt.Errorf("failed to send %s: %w", edit.Filename, err))
	}
}

// followRename keeps the selection and the pending edit attached to a file whose key changed.
func (e *Engine) followRename(oldName, newName string) {
	e.throttle.Rename(oldName, newName)
	if e.selection.Is(oldName) {
		e.selection = replica.Selected(newName)
		e.surface.SetMode(schema.ModeForFilename(newName))
	}
}
