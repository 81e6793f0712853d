package collab

import (
	"github.com/astromechza/codecollab/pkg/schema"
)

// HandleMessage decodes one frame from the transport and applies it. Frames that do not decode are dropped; the
// error is returned only so the caller can log it.
func (e *Engine) HandleMessage(raw []byte) error {
	ev, err := schema.Decode(raw)
	if err != nil {
		e.logger.Debug("dropping frame", "err", err)
		return err
	}
	e.Handle(ev)
	return nil
}

// Handle applies a remote event. Events addressed to another room are discarded without effect. It reports
// whether the event was applied.
func (e *Engine) Handle(ev schema.Event) bool {
	if scope, ok := ev.Scope(); ok && !e.session.Matches(scope) {
		e.logger.Debug("discarding event for another room", "event", ev.Type(), "target", scope.Room())
		return false
	}

	var applied bool
	switch ev := ev.(type) {
	case schema.FileList:
		e.applySnapshot(ev.Files)
		applied = true
	case schema.CodeUpdate:
		applied = e.applyCodeUpdate(ev)
	case schema.CreateFile:
		applied = e.applyCreate(ev)
	case schema.RenameFile:
		applied = e.applyRename(ev)
	case schema.DeleteFile:
		applied = e.applyDelete(ev)
	default:
		e.logger.Debug("ignoring event", "event", ev.Type())
		return false
	}
	if applied {
		e.changed()
	}
	return applied
}

// applySnapshot replaces the replica and settles the selection: keep it if the file survived, otherwise select
// the first file, otherwise nothing.
func (e *Engine) applySnapshot(files []schema.FileEntry) {
	if dropped := e.files.Replace(files); dropped > 0 {
		e.logger.Warn("snapshot contained duplicate or unnamed files", "dropped", dropped)
	}

	if name, ok := e.selection.Active(); ok && e.files.Has(name) {
		// Do not clobber a local burst that has not gone out yet; it will propagate and win.
		if !e.throttle.PendingFor(name) {
			f, _ := e.files.Get(name)
			e.overwrite(f.Content)
		}
		return
	}
	if first, ok := e.files.First(); ok {
		e.enter(first.Filename)
		return
	}
	if _, ok := e.selection.Active(); ok {
		e.unselect()
	}
}

func (e *Engine) applyCodeUpdate(ev schema.CodeUpdate) bool {
	if !e.files.Update(ev.Filename, ev.Content) {
		e.logger.Debug("code_update for unknown file", "filename", ev.Filename)
		return false
	}
	if e.selection.Is(ev.Filename) && e.overwrite(ev.Content) {
		// The local burst no longer matches anything on screen.
		e.throttle.Cancel()
	}
	return true
}

func (e *Engine) applyCreate(ev schema.CreateFile) bool {
	if err := e.files.Create(ev.Filename, ev.Content); err != nil {
		e.logger.Debug("discarding create_file", "filename", ev.Filename, "err", err)
		return false
	}
	return true
}

func (e *Engine) applyRename(ev schema.RenameFile) bool {
	if err := e.files.Rename(ev.OldName, ev.NewName); err != nil {
		e.logger.Debug("discarding rename_file", "old", ev.OldName, "new", ev.NewName, "err", err)
		return false
	}
	e.followRename(ev.OldName, ev.NewName)
	return true
}

func (e *Engine) applyDelete(ev schema.DeleteFile) bool {
	if err := e.files.Delete(ev.Filename); err != nil {
		e.logger.Debug("discarding delete_file", "filename", ev.Filename, "err", err)
		return false
	}
	if e.selection.Is(ev.Filename) {
		e.unselect()
	}
	return true
}
