package collab

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astromechza/codecollab/pkg/clock"
	"github.com/astromechza/codecollab/pkg/loop"
	"github.com/astromechza/codecollab/pkg/replica"
	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/throttle"
)

// ErrNoSelection is returned by actions that need an active file when there is none.
var ErrNoSelection = errors.New("no file selected")

// IsValidation reports whether err is a local validation failure: the action was refused and nothing changed.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoSelection) ||
		errors.Is(err, replica.ErrExists) ||
		errors.Is(err, replica.ErrNotFound) ||
		errors.Is(err, replica.ErrEmptyFilename)
}

// Emitter sends an event to the room. Implementations must not block the loop.
type Emitter interface {
	Emit(ev schema.Event) error
}

type EmitterFunc func(ev schema.Event) error

func (f EmitterFunc) Emit(ev schema.Event) error { return f(ev) }

type Config struct {
	Session schema.Session
	Surface Surface
	Emitter Emitter

	// Scheduler runs throttle expiries. It must be the scheduler that every other Engine call is made from.
	Scheduler loop.Scheduler
	Clock     clock.Clock
	Window    time.Duration
	Logger    *slog.Logger

	// OnChange is called after the file collection or the selection changed, for example to redraw tabs.
	OnChange func()
	// OnError receives failures that have no caller to return to, such as a throttled propagation that could not
	// be sent.
	OnError func(error)
}

// Engine is the state of one client in one room: the replica of the project files, the selection and the
// outbound throttle. It is created when the client joins and discarded when it leaves.
//
// An Engine is not safe for concurrent use. Every method, and every throttle expiry, runs on the goroutine that
// drains Config.Scheduler.
type Engine struct {
	session   schema.Session
	files     *replica.Replica
	selection replica.Selection
	surface   Surface
	emitter   Emitter
	throttle  *throttle.Throttle
	logger    *slog.Logger
	onChange  func()
	onError   func(error)
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	if cfg.Surface == nil {
		return nil, fmt.Errorf("surface is required")
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		session:  cfg.Session,
		files:    replica.New(),
		surface:  cfg.Surface,
		emitter:  cfg.Emitter,
		logger:   cfg.Logger.With("room", cfg.Session.Room()),
		onChange: cfg.OnChange,
		onError:  cfg.OnError,
	}
	e.throttle = throttle.New(cfg.Window, cfg.Clock, cfg.Scheduler, e.propagate)
	return e, nil
}

func (e *Engine) Session() schema.Session {
	return e.session
}

// Files returns a copy of the replica in tab order.
func (e *Engine) Files() []schema.FileEntry {
	return e.files.Files()
}

func (e *Engine) File(filename string) (schema.FileEntry, bool) {
	return e.files.Get(filename)
}

func (e *Engine) Selection() replica.Selection {
	return e.selection
}

// Selected returns the active file entry.
func (e *Engine) Selected() (schema.FileEntry, bool) {
	name, ok := e.selection.Active()
	if !ok {
		return schema.FileEntry{}, false
	}
	return e.files.Get(name)
}

// Pending returns the local edit waiting for the quiescence window, if any.
func (e *Engine) Pending() (throttle.PendingEdit, bool) {
	return e.throttle.Pending()
}

// Join asks the room for its authoritative snapshot. It is sent on every (re)connection; the resulting file_list
// replaces the replica wholesale.
func (e *Engine) Join() error {
	if err := e.emitter.Emit(schema.Join{Session: e.session}); err != nil {
		return fmt.Errorf("failed to join %s: %w", e.session.Room(), err)
	}
	e.logger.Debug("join sent")
	return nil
}

// Flush sends the pending edit, if any, without waiting for the quiescence window.
func (e *Engine) Flush() bool {
	return e.throttle.Flush()
}

// Close drops any pending propagation. The Engine must not be used afterwards.
func (e *Engine) Close() {
	e.throttle.Cancel()
}

// enter moves the selection to filename, which must be present, and loads it into the surface.
func (e *Engine) enter(filename string) {
	if !e.selection.Is(filename) {
		e.throttle.Cancel()
	}
	f, _ := e.files.Get(filename)
	e.selection = replica.Selected(filename)
	e.surface.SetContent(f.Content)
	e.surface.SetMode(schema.ModeForFilename(filename))
}

// unselect moves to Unselected and detaches the surface.
func (e *Engine) unselect() {
	e.throttle.Cancel()
	e.selection = replica.Selection{}
	e.surface.Clear()
}

// overwrite replaces the surface content unless it is already equal, keeping the cursor where it was as far as
// the new content allows. It reports whether the surface was written.
func (e *Engine) overwrite(content string) bool {
	if e.surface.Content() == content {
		return false
	}
	cursor := e.surface.Cursor()
	e.surface.SetContent(content)
	e.surface.SetCursor(clampCursor(cursor, content))
	return true
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

func (e *Engine) report(err error) {
	e.logger.Warn("sync error", "err", err)
	if e.onError != nil {
		e.onError(err)
	}
}
