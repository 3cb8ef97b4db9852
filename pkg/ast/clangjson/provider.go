// Package clangjson implements ast.Provider by running clang with
// -ast-dump=json and mapping the dump onto ast nodes. Macro definitions and
// expansions are not part of clang's AST dump, so the provider cannot serve
// analyses that need a detailed preprocessing record.
package clangjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/panbanda/ccdead/pkg/ast"
)

// ErrDanglingReference is wrapped in a query error when a reference names a
// declaration id that is not in the dump.
var ErrDanglingReference = errors.New("referenced declaration not in AST dump")

// Runner executes the compiler and returns its standard output.
type Runner func(ctx context.Context, binary string, args []string) ([]byte, error)

// Options configures the provider.
type Options struct {
	// Binary is the clang executable. Defaults to "clang".
	Binary    string
	ExtraArgs []string
	Runner    Runner
	Logger    zerolog.Logger
}

// Provider implements ast.Provider using clang's JSON AST dump.
type Provider struct {
	opts Options
}

var _ ast.Provider = (*Provider)(nil)

func New(opts Options) *Provider {
	if opts.Binary == "" {
		opts.Binary = "clang"
	}
	if opts.Runner == nil {
		opts.Runner = runClang
	}
	return &Provider{opts: opts}
}

func (p *Provider) Name() string {
	return "clang"
}

func (p *Provider) Supports(opts ast.ParseOptions) bool {
	return !opts.Has(ast.OptDetailedPreprocessingRecord)
}

func (p *Provider) NewIndex() (ast.Index, error) {
	return &index{opts: p.opts}, nil
}

// ExitError is returned when clang fails and the dump cannot be used.
type ExitError struct {
	File   string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg == "" {
		return fmt.Sprintf("clang failed on %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("clang failed on %s: %v: %s", e.File, e.Err, msg)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func runClang(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		file := ""
		if len(args) > 0 {
			file = args[len(args)-1]
		}
		return stdout.Bytes(), &ExitError{File: file, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// flags dropped from the compile command, with whether they take a value.
var dropped = map[string]bool{
	"-c": false, "-o": true, "-MD": false, "-MMD": false, "-M": false, "-MM": false,
	"-MF": true, "-MT": true, "-MQ": true, "-MP": false, "-fcolor-diagnostics": false,
}

// dumpArgs rewrites a compile command into an AST dump command. The
// compiler in args[0] is replaced by the configured binary.
func dumpArgs(args, extra []string) []string {
	if len(args) < 2 {
		return nil
	}
	file := args[len(args)-1]
	out := []string{"-fsyntax-only", "-fno-color-diagnostics"}
	rest := args[1 : len(args)-1]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if takesValue, ok := dropped[arg]; ok {
			if takesValue {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-o") || strings.HasPrefix(arg, "-MF") || strings.HasPrefix(arg, "-MT") {
			continue
		}
		out = append(out, arg)
	}
	out = append(out, extra...)
	out = append(out, "-Xclang", "-ast-dump=json", file)
	return out
}

type index struct {
	opts   Options
	closed bool
}

func (ix *index) Parse(ctx context.Context, args []string, opts ast.ParseOptions) (ast.Tree, error) {
	if ix.closed {
		return nil, errors.New("index is closed")
	}
	if opts.Has(ast.OptDetailedPreprocessingRecord) {
		return nil, fmt.Errorf("%w: %s", ast.ErrUnsupportedOptions, opts)
	}
	cmdArgs := dumpArgs(args, ix.opts.ExtraArgs)
	if cmdArgs == nil {
		return nil, errors.New("argument vector has no source file")
	}

	out, runErr := ix.opts.Runner(ctx, ix.opts.Binary, cmdArgs)
	if runErr != nil {
		// clang still dumps the AST after recoverable errors
		if !opts.Has(ast.OptKeepGoing) && !opts.Has(ast.OptIncomplete) {
			return nil, runErr
		}
		if len(out) == 0 {
			return nil, runErr
		}
		ix.opts.Logger.Warn().Err(runErr).Msg("using AST dump despite compiler errors")
	}

	var root dumpNode
	if err := json.Unmarshal(out, &root); err != nil {
		return nil, fmt.Errorf("failed to decode AST dump for %s: %w", args[len(args)-1], err)
	}
	root.decompressLocs()

	return build(&root, opts), nil
}

func (ix *index) Close() {
	ix.closed = true
}
