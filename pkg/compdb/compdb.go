// Package compdb reads a JSON compilation database (compile_commands.json)
// and turns its entries into analysis tasks with absolute paths.
package compdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/shell"

	"github.com/panbanda/ccdead/pkg/parser"
)

// FileName is the conventional name of a compilation database.
const FileName = "compile_commands.json"

// ErrEmpty is returned when the database has no usable entries.
var ErrEmpty = errors.New("compilation database has no C/C++ entries")

// Task is one translation unit to analyze. Args is the compiler argument
// vector; its last element is File, which is absolute.
type Task struct {
	Args      []string `json:"args"`
	Directory string   `json:"directory"`
	File      string   `json:"file"`
}

// Entry is one raw record of the database.
type Entry struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Output    string   `json:"output,omitempty"`
}

// Options controls loading.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Exclude holds doublestar patterns matched against absolute source paths.
	Exclude []string
	Logger  zerolog.Logger
}

// Load reads the database at path, which may be the JSON file itself or a
// directory containing compile_commands.json. Entries keep database order.
func Load(path string, opts Options) ([]Task, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	if info, err := opts.Fs.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := afero.ReadFile(opts.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compilation database: %w", err)
	}

	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	tasks := make([]Task, 0, len(entries))
	for i, e := range entries {
		task, err := e.Task()
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		lang := language(task.Args)
		if lang == parser.LangUnknown {
			opts.Logger.Debug().Str("file", task.File).Msg("skipping non C/C++ entry")
			continue
		}
		if excluded(task.File, opts.Exclude) {
			opts.Logger.Debug().Str("file", task.File).Msg("excluded by pattern")
			continue
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, ErrEmpty
	}
	return tasks, nil
}

// Parse validates raw database JSON and decodes its entries.
func Parse(data []byte) ([]Entry, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode compilation database: %w", err)
	}
	return entries, nil
}

// Task converts an entry into a task: the argument vector comes from
// Arguments or from splitting Command, include paths and the source file
// are made absolute against Directory, and the source file is moved to the
// end of the vector.
func (e Entry) Task() (Task, error) {
	args := e.Arguments
	if len(args) == 0 {
		fields, err := shell.Fields(e.Command, nil)
		if err != nil {
			return Task{}, fmt.Errorf("failed to split command: %w", err)
		}
		args = fields
	}
	if len(args) == 0 {
		return Task{}, errors.New("empty command")
	}

	dir := filepath.Clean(e.Directory)
	file := absolute(dir, e.File)

	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if flag, ok := pathFlag(arg); ok {
			if arg == flag {
				out = append(out, arg)
				if i+1 < len(rest) {
					i++
					out = append(out, absolute(dir, rest[i]))
				}
				continue
			}
			out = append(out, flag+absolute(dir, arg[len(flag):]))
			continue
		}
		if arg == "-o" && i+1 < len(rest) {
			out = append(out, arg, rest[i+1])
			i++
			continue
		}
		if !strings.HasPrefix(arg, "-") && absolute(dir, arg) == file {
			continue
		}
		out = append(out, arg)
	}
	out = append(out, file)

	return Task{Args: out, Directory: dir, File: file}, nil
}

// path-valued flags, longest first so -isystem wins over -I style prefixes.
var pathFlags = []string{"-isystem", "-iquote", "-idirafter", "-include", "-I"}

func pathFlag(arg string) (string, bool) {
	for _, f := range pathFlags {
		if strings.HasPrefix(arg, f) {
			return f, true
		}
	}
	return "", false
}

func absolute(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

func language(args []string) parser.Language {
	for i := 1; i < len(args)-1; i++ {
		switch {
		case args[i] == "-x" && i+2 < len(args):
			return parser.LanguageFromFlag(args[i+1])
		case strings.HasPrefix(args[i], "-x") && len(args[i]) > 2:
			return parser.LanguageFromFlag(args[i][2:])
		}
	}
	return parser.DetectLanguage(args[len(args)-1])
}

func excluded(file string, patterns []string) bool {
	slashed := filepath.ToSlash(file)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, slashed); ok {
			return true
		}
	}
	return false
}
