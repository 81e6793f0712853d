package collab

import (
	"unicode/utf8"

	"github.com/astromechza/codecollab/pkg/schema"
)

// Surface is the text editing widget. The Engine writes to it only from selection transitions and inbound
// reconciliation; local edit handling only reads Content.
//
// Cursor offsets are counted in runes.
type Surface interface {
	Content() string
	SetContent(content string)
	Cursor() int
	SetCursor(offset int)
	SetMode(mode schema.Mode)

	// Clear empties the surface and detaches it from any file.
	Clear()
}

// MemorySurface is a Surface held in memory, used by the terminal client and tests.
type MemorySurface struct {
	content    string
	cursor     int
	mode       schema.Mode
	associated bool
	writes     int
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

func (m *MemorySurface) Content() string {
	return m.content
}

func (m *MemorySurface) SetContent(content string) {
	m.content = content
	m.associated = true
	m.writes++
	m.cursor = clampCursor(m.cursor, content)
}

func (m *MemorySurface) Cursor() int {
	return m.cursor
}

func (m *MemorySurface) SetCursor(offset int) {
	m.cursor = clampCursor(offset, m.content)
}

func (m *MemorySurface) Mode() schema.Mode {
	return m.mode
}

func (m *MemorySurface) SetMode(mode schema.Mode) {
	m.mode = mode
}

func (m *MemorySurface) Clear() {
	m.content = ""
	m.cursor = 0
	m.mode = schema.ModePlaintext
	m.associated = false
	m.writes++
}

// Associated reports whether the surface currently shows a file, as opposed to the cleared state.
func (m *MemorySurface) Associated() bool {
	return m.associated
}

// Writes counts programmatic content replacements, including Clear.
func (m *MemorySurface) Writes() int {
	return m.writes
}

// Type inserts text at the cursor as a user would, leaving the cursor after it. It does not count as a write;
// the caller is expected to tell the Engine about the edit.
func (m *MemorySurface) Type(text string) {
	runes := []rune(m.content)
	at := clampCursor(m.cursor, m.content)
	m.content = string(runes[:at]) + text + string(runes[at:])
	m.cursor = at + utf8.RuneCountInString(text)
}

// Replace swaps the whole content as a user edit (select-all + paste) and moves the cursor to the end.
func (m *MemorySurface) Replace(text string) {
	m.content = text
	m.cursor = utf8.RuneCountInString(text)
}

func clampCursor(offset int, content string) int {
	if offset < 0 {
		return 0
	}
	if n := utf8.RuneCountInString(content); offset > n {
		return n
	}
	return offset
}
