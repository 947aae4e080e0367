package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/rasm/internal/manifest"
	"github.com/tinyrange/rasm/internal/object"
)

const usage = `rasm - assemble YAML program manifests into static libraries

USAGE:
  rasm [flags] <manifest.yaml>...
  rasm -init <manifest.yaml>

FLAGS:
  -out DIR        Output directory (default: $OUT_DIR, else .)
  -format FORMAT  Object format: coff or elf (default: manifest, else coff)
  -machine ARCH   Target machine: amd64 or i386 (default: manifest, else amd64)
  -lib NAME       Library name, only with a single manifest (default: manifest name)
  -verify         Re-read each library and check its symbols against the code
  -link           Print linker flags for each library on stdout
  -call FUNC      Run FUNC natively after assembling (linux/amd64 only)
  -args LIST      Comma-separated integer arguments for -call
  -init           Write an example manifest to the given path and exit
  -v              Verbose logging

Each manifest produces lib<name>.a holding one relocatable object.
`

// maxCallArgs is the number of integer argument registers in the System V
// calling convention.
const maxCallArgs = 6

type options struct {
	outDir    string
	format    string
	machine   string
	lib       string
	verify    bool
	link      bool
	call      string
	args      string
	writeInit bool
	verbose   bool
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var opts options

	fs := flag.NewFlagSet("rasm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.outDir, "out", object.OutDirFromEnv(), "output directory")
	fs.StringVar(&opts.format, "format", "", "object format (coff or elf)")
	fs.StringVar(&opts.machine, "machine", "", "target machine (amd64 or i386)")
	fs.StringVar(&opts.lib, "lib", "", "library name")
	fs.BoolVar(&opts.verify, "verify", false, "verify written libraries")
	fs.BoolVar(&opts.link, "link", false, "print linker flags")
	fs.StringVar(&opts.call, "call", "", "function to run natively")
	fs.StringVar(&opts.args, "args", "", "integer arguments for -call")
	fs.BoolVar(&opts.writeInit, "init", false, "write an example manifest")
	fs.BoolVar(&opts.verbose, "v", false, "verbose logging")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return opts, nil, errors.New("no manifests given")
	}
	if opts.lib != "" && fs.NArg() > 1 {
		return opts, nil, errors.New("-lib needs exactly one manifest")
	}
	if opts.args != "" && opts.call == "" {
		return opts, nil, errors.New("-args needs -call")
	}
	return opts, fs.Args(), nil
}

func parseCallArgs(list string) ([]int64, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []int64
	for _, field := range strings.Split(list, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(field), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parse call argument %q: %w", field, err)
		}
		out = append(out, v)
	}
	if len(out) > maxCallArgs {
		return nil, fmt.Errorf("at most %d call arguments, got %d", maxCallArgs, len(out))
	}
	return out, nil
}

// emitOptions combines manifest settings with command-line overrides.
func emitOptions(m manifest.Manifest, opts options, logger *slog.Logger) (object.Options, error) {
	out, err := m.ObjectOptions()
	if err != nil {
		return out, err
	}
	if opts.format != "" {
		if out.Format, err = object.ParseFormat(opts.format); err != nil {
			return out, err
		}
	}
	if opts.machine != "" {
		if out.Machine, err = object.ParseMachine(opts.machine); err != nil {
			return out, err
		}
	}
	out.Logger = logger
	return out, nil
}

func assembleOne(path string, opts options, sink object.DirSink, stdout io.Writer, logger *slog.Logger) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	obj, err := m.Assemble(logger)
	if err != nil {
		return fmt.Errorf("assemble %s: %w", path, err)
	}

	emit, err := emitOptions(m, opts, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	name := m.LibraryName(path)
	if opts.lib != "" {
		name = opts.lib
	}

	lib, err := object.Archive(obj, emit)
	if err != nil {
		return fmt.Errorf("emit %s: %w", path, err)
	}
	if opts.verify {
		if err := object.Verify(lib, obj, emit); err != nil {
			return fmt.Errorf("verify %s: %w", path, err)
		}
	}

	where, err := sink.Put(name, lib)
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	logger.Info("wrote library",
		"manifest", path,
		"path", where,
		"functions", len(obj.Functions),
		"code", len(obj.Code),
	)

	if opts.link {
		fmt.Fprintln(stdout, sink.LinkFlags(name))
	}

	if opts.call != "" {
		args, err := parseCallArgs(opts.args)
		if err != nil {
			return err
		}
		ret, err := callNative(obj, opts.call, args)
		if err != nil {
			return fmt.Errorf("call %s: %w", opts.call, err)
		}
		fmt.Fprintf(stdout, "%s(%s) = %d\n", opts.call, opts.args, int64(ret))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, paths, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if opts.writeInit {
		for _, path := range paths {
			if err := manifest.Write(path, manifest.Template()); err != nil {
				return err
			}
			logger.Info("wrote example manifest", "path", path)
		}
		return nil
	}

	sink := object.DirSink{Dir: opts.outDir}

	var bar *progressbar.ProgressBar
	if len(paths) > 1 && isTerminal(stderr) {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("assembling"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
	}

	for _, path := range paths {
		if bar != nil {
			bar.Describe(path)
		}
		if err := assembleOne(path, opts, sink, stdout, logger); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rasm: %v\n", err)
		os.Exit(1)
	}
}
