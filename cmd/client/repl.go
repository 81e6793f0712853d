package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/astromechza/codecollab/pkg/collab"
	"github.com/astromechza/codecollab/pkg/config"
	"github.com/astromechza/codecollab/pkg/loop"
	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/services"
)

var (
	errQuit        = errors.New("quit")
	errNoServices  = errors.New("no services url configured")
	errNoSelection = collab.ErrNoSelection
)

const usage = `commands:
  ls                      list files, * marks the open one
  open NAME               open a file
  new NAME                create an empty file and open it
  import PATH             open a local file, creating it in the project if needed
  mv OLD NEW              rename a file
  rm [NAME]               delete a file, the open one by default
  cat                     print the open file
  write TEXT              replace the open file, \n starts a new line
  append TEXT             add a line to the end of the open file
  run                     run the open file, or preview html/react projects
  complete                ask for a completion of the open file
  accept                  insert the last completion at the cursor
  explain [TEXT]          explain an error, the last run output by default
  packages                list allowed and installed packages
  install PKG             install a package for the project
  share                   share the open file in the project chat
  unshare ID              delete one of your shared messages
  rejoin                  fetch a fresh snapshot from the relay
  quit`

// session is the terminal front end of one Engine. Every Engine and surface access goes through the loop; calls
// to the services are made from the REPL goroutine so a slow service never stalls inbound updates.
type session struct {
	cfg      config.Client
	engine   *collab.Engine
	surface  *collab.MemorySurface
	loop     *loop.Loop
	services *services.Client
	out      io.Writer

	lastOutput     string
	lastCompletion string
}

func (s *session) printTabs() {
	var tabs []string
	selected := s.engine.Selection()
	for _, f := range s.engine.Files() {
		if selected.Is(f.Filename) {
			tabs = append(tabs, "*"+f.Filename)
		} else {
			tabs = append(tabs, f.Filename)
		}
	}
	fmt.Fprintf(s.out, "[%s]\n", strings.Join(tabs, " "))
}

func (s *session) exec(ctx context.Context, line string) error {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	switch command {
	case "":
		return nil
	case "help":
		fmt.Fprintln(s.out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	case "ls":
		return s.loop.Do(ctx, func() error {
			s.printTabs()
			return nil
		})
	case "open":
		if len(args) != 1 {
			return fmt.Errorf("usage: open NAME")
		}
		return s.loop.Do(ctx, func() error { return s.engine.Select(args[0]) })
	case "new":
		if rest == "" {
			return fmt.Errorf("usage: new NAME")
		}
		return s.loop.Do(ctx, func() error { return s.engine.CreateFile(rest, "") })
	case "import":
		if rest == "" {
			return fmt.Errorf("usage: import PATH")
		}
		content, err := os.ReadFile(rest)
		if err != nil {
			return err
		}
		return s.loop.Do(ctx, func() error { return s.engine.ImportFile(filepath.Base(rest), string(content)) })
	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("usage: mv OLD NEW")
		}
		return s.loop.Do(ctx, func() error { return s.engine.RenameFile(args[0], args[1]) })
	case "rm":
		return s.loop.Do(ctx, func() error {
			if rest == "" {
				return s.engine.DeleteSelected()
			}
			return s.engine.DeleteFile(rest)
		})
	case "cat":
		return s.loop.Do(ctx, func() error {
			f, ok := s.engine.Selected()
			if !ok {
				return errNoSelection
			}
			fmt.Fprintf(s.out, "--- %s (%s)\n%s\n", f.Filename, s.surface.Mode(), f.Content)
			return nil
		})
	case "write":
		text := strings.ReplaceAll(rest, `\n`, "\n")
		return s.edit(ctx, func() { s.surface.Replace(text) })
	case "append":
		return s.edit(ctx, func() {
			content := s.surface.Content()
			s.surface.SetCursor(len([]rune(content)))
			if content != "" && !strings.HasSuffix(content, "\n") {
				s.surface.Type("\n")
			}
			s.surface.Type(rest + "\n")
		})
	case "accept":
		if s.lastCompletion == "" {
			return fmt.Errorf("no completion to accept")
		}
		completion := s.lastCompletion
		s.lastCompletion = ""
		return s.edit(ctx, func() { s.surface.Type(completion) })
	case "rejoin":
		return s.loop.Do(ctx, s.engine.Join)
	case "run":
		return s.run(ctx)
	case "complete":
		return s.complete(ctx)
	case "explain":
		return s.explain(ctx, rest)
	case "packages":
		return s.packages(ctx)
	case "install":
		if len(args) != 1 {
			return fmt.Errorf("usage: install PKG")
		}
		return s.install(ctx, args[0])
	case "share":
		return s.share(ctx)
	case "unshare":
		if len(args) != 1 {
			return fmt.Errorf("usage: unshare ID")
		}
		if s.services == nil {
			return errNoServices
		}
		return s.services.DeleteMessage(ctx, args[0], s.cfg.User)
	default:
		return fmt.Errorf("unknown command %q, try help", command)
	}
}

// edit applies a user edit to the surface of the open file and reports it to the Engine.
func (s *session) edit(ctx context.Context, apply func()) error {
	return s.loop.Do(ctx, func() error {
		if _, ok := s.engine.Selected(); !ok {
			return errNoSelection
		}
		apply()
		s.engine.Edited()
		return nil
	})
}

// snapshot copies the open file and the whole collection off the loop.
func (s *session) snapshot(ctx context.Context) (schema.FileEntry, []schema.FileEntry, error) {
	var selected schema.FileEntry
	var files []schema.FileEntry
	err := s.loop.Do(ctx, func() error {
		f, ok := s.engine.Selected()
		if !ok {
			return errNoSelection
		}
		selected, files = f, s.engine.Files()
		return nil
	})
	return selected, files, err
}

func (s *session) run(ctx context.Context) error {
	selected, files, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if schema.IsPreviewLanguage(s.cfg.Language) {
		return s.writePreview(collab.BuildPreview(files, selected.Filename))
	}
	if s.services == nil {
		return errNoServices
	}
	result, err := s.services.Run(ctx, s.cfg.Language, selected)
	if err != nil {
		var serviceErr *services.Error
		if errors.As(err, &serviceErr) {
			s.lastOutput = serviceErr.Message
		}
		return err
	}
	if result.HTMLPreview != "" {
		return s.writePreview(result.HTMLPreview)
	}
	s.lastOutput = result.Output
	fmt.Fprintln(s.out, result.Output)
	return nil
}

func (s *session) writePreview(html string) error {
	f, err := os.CreateTemp("", "codecollab-*.html")
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(html); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "preview: file://%s\n", f.Name())
	return nil
}

func (s *session) complete(ctx context.Context) error {
	if s.services == nil {
		return errNoServices
	}
	selected, _, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	completion, err := s.services.Complete(ctx, selected.Content)
	if err != nil {
		return err
	}
	s.lastCompletion = completion
	if completion == "" {
		fmt.Fprintln(s.out, "no suggestion")
		return nil
	}
	fmt.Fprintf(s.out, "suggestion (accept to insert):\n%s\n", completion)
	return nil
}

func (s *session) explain(ctx context.Context, text string) error {
	if s.services == nil {
		return errNoServices
	}
	if text == "" {
		text = s.lastOutput
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to explain")
	}
	selected, _, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	line, _ := services.ErrorLine(text)
	explanation, err := s.services.ExplainError(ctx, text, line, selected.Content)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, explanation)
	return nil
}

func (s *session) packages(ctx context.Context) error {
	allowed := services.AllowedPackages(s.cfg.Language)
	fmt.Fprintf(s.out, "allowed: %s\n", strings.Join(allowed, " "))
	if s.services == nil {
		return nil
	}
	listed, err := s.services.ListPackages(ctx, s.cfg.Project)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "installed: %s\n", strings.Join(listed.Installed[s.cfg.Language], " "))
	return nil
}

func (s *session) install(ctx context.Context, pkg string) error {
	if !services.IsAllowedPackage(s.cfg.Language, pkg) {
		return fmt.Errorf("%s is not an allowed %s package", pkg, s.cfg.Language)
	}
	if s.services == nil {
		return errNoServices
	}
	output, err := s.services.InstallPackage(ctx, s.cfg.Project, s.cfg.Language, pkg)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, output)
	return nil
}

func (s *session) share(ctx context.Context) error {
	if s.services == nil {
		return errNoServices
	}
	if s.cfg.User == "" {
		return fmt.Errorf("sharing needs --user")
	}
	selected, _, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := s.services.ShareFile(ctx, s.cfg.User, s.cfg.Project, selected); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "shared %s\n", selected.Filename)
	return nil
}
