package schema

import (
	"path"
	"strings"
)

// Mode is the editing mode applied to the text surface for a file.
type Mode int

const (
	ModePlaintext Mode = iota
	ModeHTML
	ModeJavaScript
	ModePython
	ModeJava
	ModeCPP
	ModeC
	ModeRuby
	ModeSQL
	ModeMarkdown
)

var modeNames = [...]string{
	ModePlaintext:  "plaintext",
	ModeHTML:       "html",
	ModeJavaScript: "javascript",
	ModePython:     "python",
	ModeJava:       "java",
	ModeCPP:        "cpp",
	ModeC:          "c",
	ModeRuby:       "ruby",
	ModeSQL:        "sql",
	ModeMarkdown:   "markdown",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return modeNames[ModePlaintext]
	}
	return modeNames[m]
}

// extensionModes is keyed by lower-cased extension without the dot.
var extensionModes = map[string]Mode{
	"html":  ModeHTML,
	"htm":   ModeHTML,
	"react": ModeJavaScript,
	"js":    ModeJavaScript,
	"jsx":   ModeJavaScript,
	"py":    ModePython,
	"java":  ModeJava,
	"cpp":   ModeCPP,
	"c":     ModeC,
	"rb":    ModeRuby,
	"sql":   ModeSQL,
	"txt":   ModePlaintext,
	"md":    ModeMarkdown,
}

// ModeForFilename maps the extension of filename to an editing mode. Unknown or missing extensions map to
// ModePlaintext. A name with no dot is treated as its own extension, so "py" yields ModePython.
func ModeForFilename(filename string) Mode {
	base := path.Base(filename)
	ext := base
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		ext = base[i+1:]
	}
	if m, ok := extensionModes[strings.ToLower(ext)]; ok {
		return m
	}
	return ModePlaintext
}
