package replica

// Selection is the active file of the local participant. The zero value is Unselected.
type Selection struct {
	filename string
	set      bool
}

// Selected returns a Selection pointing at filename.
func Selected(filename string) Selection {
	return Selection{filename: filename, set: true}
}

// Active returns the selected filename, ok is false when Unselected.
func (s Selection) Active() (filename string, ok bool) {
	return s.filename, s.set
}

// Is reports whether filename is the selected file.
func (s Selection) Is(filename string) bool {
	return s.set && s.filename == filename
}

func (s Selection) String() string {
	if !s.set {
		return "Unselected"
	}
	return "Selected(" + s.filename + ")"
}

// Valid reports whether the selection satisfies its invariant against r: Unselected, or pointing at a present entry.
func (s Selection) Valid(r *Replica) bool {
	return !s.set || r.Has(s.filename)
}
