package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/pipeline"
	"github.com/dgallion1/docoutline/internal/rank"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `docoutline: document outlines and persona-driven page ranking

usage:
  docoutline outline [-pretty] [-strict=false] <file>
  docoutline rank -persona <text> -job <text> [-pretty] [-strict=false] <file>...

outline  Prints the title and H1/H2/H3 headings of one document as JSON.
rank     Prints the pages most relevant to a persona and task as JSON.

Limits (pages, size, document count) follow the server's environment
variables and are enforced unless -strict=false.
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "outline":
		return cmdOutline(ctx, args[1:], stdout, stderr)
	case "rank":
		return cmdRank(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
}

// common holds flags shared by every subcommand.
type common struct {
	pretty bool
	strict bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.BoolVar(&c.pretty, "pretty", false, "indent JSON output")
	fs.BoolVar(&c.strict, "strict", true, "enforce page, size and document-count limits")
}

func newWorker(c common, stderr io.Writer) (*pipeline.Worker, error) {
	cfg := config.Load()
	h, err := config.LoadHeuristics(cfg.HeuristicsFile)
	if err != nil {
		return nil, err
	}
	var policy pipeline.Policy
	if c.strict {
		policy = pipeline.PolicyFromConfig(cfg)
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return pipeline.NewWorker(log, policy, parser.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext},
		h.OutlineOptions(), h.RankOptions(), nil), nil
}

func cmdOutline(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("outline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "outline requires exactly one file")
		return 2
	}

	file, err := readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	w, err := newWorker(c, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	res, err := w.Outline(ctx, file, nil)
	if err != nil {
		return fail(stderr, err)
	}
	return emit(stdout, stderr, res, c.pretty)
}

func cmdRank(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rank", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	var q rank.Query
	fs.StringVar(&q.Persona, "persona", "", "who is reading")
	fs.StringVar(&q.Task, "job", "", "what they need to get done")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "rank requires at least one file")
		return 2
	}

	files := make([]pipeline.InputFile, 0, fs.NArg())
	for _, path := range fs.Args() {
		f, err := readInput(path)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		files = append(files, f)
	}
	w, err := newWorker(c, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	res, err := w.Rank(ctx, files, q, nil)
	if err != nil {
		return fail(stderr, err)
	}
	return emit(stdout, stderr, res, c.pretty)
}

func readInput(path string) (pipeline.InputFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.InputFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	return pipeline.InputFile{Name: filepath.Base(path), Data: data}, nil
}

// fail reports err; usage-policy violations exit with 3 so scripts can tell
// them apart from unreadable input.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "error: %v\n", err)
	if errors.Is(err, pipeline.ErrPrecondition) {
		return 3
	}
	return 1
}

func emit(stdout, stderr io.Writer, v any, pretty bool) int {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
