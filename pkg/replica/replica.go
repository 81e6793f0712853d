package replica

import (
	"errors"
	"fmt"

	"github.com/astromechza/codecollab/pkg/schema"
)

var (
	ErrExists        = errors.New("file already exists")
	ErrNotFound      = errors.New("file not found")
	ErrEmptyFilename = errors.New("filename is empty")
)

// Replica is an ordered collection of files keyed by filename. Order is tab order and has no bearing on
// correctness. No two entries ever share a filename.
//
// The zero value is an empty Replica. A Replica is not safe for concurrent use; it is owned by a single session
// (client side) or guarded by a transaction (relay side).
type Replica struct {
	entries []schema.FileEntry
	index   map[string]int
}

// New returns a Replica holding files, see Replace for duplicate handling.
func New(files ...schema.FileEntry) *Replica {
	r := &Replica{}
	r.Replace(files)
	return r
}

// Replace discards the current contents and installs files in their given order. Later entries that repeat an
// earlier filename, and entries without a filename, are dropped; the number dropped is returned.
func (r *Replica) Replace(files []schema.FileEntry) int {
	r.entries = make([]schema.FileEntry, 0, len(files))
	r.index = make(map[string]int, len(files))
	dropped := 0
	for _, f := range files {
		if _, ok := r.index[f.Filename]; ok || f.Filename == "" {
			dropped++
			continue
		}
		r.index[f.Filename] = len(r.entries)
		r.entries = append(r.entries, f)
	}
	return dropped
}

func (r *Replica) Len() int {
	return len(r.entries)
}

func (r *Replica) Has(filename string) bool {
	_, ok := r.index[filename]
	return ok
}

func (r *Replica) Get(filename string) (schema.FileEntry, bool) {
	i, ok := r.index[filename]
	if !ok {
		return schema.FileEntry{}, false
	}
	return r.entries[i], true
}

// First returns the entry at the head of the tab order.
func (r *Replica) First() (schema.FileEntry, bool) {
	if len(r.entries) == 0 {
		return schema.FileEntry{}, false
	}
	return r.entries[0], true
}

// Files returns a copy of the entries in order.
func (r *Replica) Files() []schema.FileEntry {
	out := make([]schema.FileEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Filenames returns the keys in order.
func (r *Replica) Filenames() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Filename
	}
	return out
}

// Create appends a new entry.
func (r *Replica) Create(filename, content string) error {
	if filename == "" {
		return ErrEmptyFilename
	}
	if r.Has(filename) {
		return fmt.Errorf("%w: %s", ErrExists, filename)
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[filename] = len(r.entries)
	r.entries = append(r.entries, schema.FileEntry{Filename: filename, Content: content})
	return nil
}

// Rename changes the key of an entry in place, keeping its content and tab position. Renaming onto a name that is
// already taken is rejected with ErrExists. Renaming a file to its own name is a no-op.
func (r *Replica) Rename(oldName, newName string) error {
	if newName == "" {
		return ErrEmptyFilename
	}
	i, ok := r.index[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if r.Has(newName) {
		return fmt.Errorf("%w: %s", ErrExists, newName)
	}
	r.entries[i].Filename = newName
	delete(r.index, oldName)
	r.index[newName] = i
	return nil
}

// Delete removes an entry.
func (r *Replica) Delete(filename string) error {
	i, ok := r.index[filename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, filename)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].Filename] = j
	}
	return nil
}

// Update replaces the content of an existing entry. It reports false, and changes nothing, when the file is absent.
func (r *Replica) Update(filename, content string) bool {
	i, ok := r.index[filename]
	if !ok {
		return false
	}
	r.entries[i].Content = content
	return true
}
