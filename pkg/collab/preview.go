package collab

import (
	"strings"

	"github.com/astromechza/codecollab/pkg/schema"
)

// BuildPreview assembles a single HTML document for html and react projects: the markup of index.html (or of the
// selected file when there is no index.html), styles.css inlined as a style block, and script.js (or the first .js
// file) inlined as a script block.
func BuildPreview(files []schema.FileEntry, selected string) string {
	find := func(match func(schema.FileEntry) bool) (schema.FileEntry, bool) {
		for _, f := range files {
			if match(f) {
				return f, true
			}
		}
		return schema.FileEntry{}, false
	}
	named := func(name string) func(schema.FileEntry) bool {
		return func(f schema.FileEntry) bool { return f.Filename == name }
	}

	markup, ok := find(named("index.html"))
	if !ok {
		markup, _ = find(named(selected))
	}
	css, hasCSS := find(named("styles.css"))
	js, hasJS := find(named("script.js"))
	if !hasJS {
		js, hasJS = find(func(f schema.FileEntry) bool { return strings.HasSuffix(f.Filename, ".js") })
	}

	var b strings.Builder
	b.WriteString("<!doctype html><html><head>\n<meta charset=\"utf-8\">\n")
	if hasCSS {
		b.WriteString("<style>" + css.Content + "</style>\n")
	}
	b.WriteString("</head><body>\n")
	b.WriteString(markup.Content)
	b.WriteString("\n")
	if hasJS {
		b.WriteString("<script>" + js.Content + "</script>\n")
	}
	b.WriteString("</body></html>")
	return b.String()
}
