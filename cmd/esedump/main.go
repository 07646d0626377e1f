package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/example/esedb/internal/api"
	"github.com/example/esedb/internal/storage"
)

var errMetaUsage = errors.New("usage: esedump meta [--json] <dbfile>")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	var err error
	switch cmd {
	case "info":
		err = runInfo(os.Args[2:])
	case "tables":
		err = runTables(os.Args[2:])
	case "columns":
		err = runColumns(os.Args[2:])
	case "meta":
		err = runMeta(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("ESE database dump utility")
	fmt.Println("Usage:")
	fmt.Println("  esedump info [-v] [-json] <dbfile>")
	fmt.Println("  esedump tables [-v] <dbfile>")
	fmt.Println("  esedump columns [-v] <dbfile> <table>")
	fmt.Println("  esedump meta [--json] <dbfile>")
	fmt.Println("  esedump dump [-v] [-format text|json|msgpack] [-limit N] [-ticks col,...] <dbfile> <table>")
	fmt.Println("  esedump export [-v] [-format json|msgpack] [-out DIR] [-j N] <dbfile> [table...]")
}

// openFlags are the database options every reading subcommand accepts.
type openFlags struct {
	verbose bool
	mmap    bool
	cache   int
}

func (o *openFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&o.verbose, "v", false, "log debug events to stderr")
	fs.BoolVar(&o.mmap, "mmap", false, "memory-map the database file")
	fs.IntVar(&o.cache, "cache", storage.DefaultCacheSize, "number of pages to cache")
}

func (o *openFlags) open(path string) (*api.Database, error) {
	return api.Open(path,
		api.WithLogger(newLogger(o.verbose)),
		api.WithMmap(o.mmap),
		api.WithCacheSize(o.cache),
	)
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func runInfo(args []string) error {
	var of openFlags
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit JSON")
	of.register(fs)
	fs.Usage = func() {
		fmt.Println("Usage: esedump info [-v] [-json] <dbfile>")
	}
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	db, err := of.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	info, err := db.Info()
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, info)
	}
	printInfo(os.Stdout, info)
	return nil
}

func runTables(args []string) error {
	var of openFlags
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	of.register(fs)
	fs.Usage = func() {
		fmt.Println("Usage: esedump tables [-v] <dbfile>")
	}
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	db, err := of.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	tables := db.Tables()
	if len(tables) == 0 {
		fmt.Println("No tables defined")
		return nil
	}
	printTables(os.Stdout, tables)
	return nil
}

func runColumns(args []string) error {
	var of openFlags
	fs := flag.NewFlagSet("columns", flag.ExitOnError)
	of.register(fs)
	fs.Usage = func() {
		fmt.Println("Usage: esedump columns [-v] <dbfile> <table>")
	}
	fs.Parse(args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	db, err := of.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	cols, err := db.Columns(fs.Arg(1))
	if err != nil {
		return err
	}
	printColumns(os.Stdout, fs.Arg(1), cols)
	return nil
}

func runMeta(args []string) error {
	jsonOut, dbPath, err := parseMetaArgs(args)
	if err != nil {
		if errors.Is(err, errMetaUsage) {
			fmt.Fprintln(os.Stderr, errMetaUsage)
			os.Exit(1)
		}
		return err
	}
	meta, err := api.LoadDatabaseMeta(dbPath)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(os.Stdout, meta)
	}
	printMeta(os.Stdout, meta)
	return nil
}

// parseMetaArgs accepts -json or --json followed by exactly one database
// path.
func parseMetaArgs(args []string) (bool, string, error) {
	fs := flag.NewFlagSet("meta", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return false, "", err
	}
	switch fs.NArg() {
	case 0:
		return false, "", errMetaUsage
	case 1:
		return *jsonOut, fs.Arg(0), nil
	default:
		return false, "", fmt.Errorf("unexpected arguments after %s: %s", fs.Arg(0), strings.Join(fs.Args()[1:], " "))
	}
}

func runDump(args []string) error {
	var of openFlags
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	of.register(fs)
	format := fs.String("format", formatText, "output format: text, json or msgpack")
	limit := fs.Int("limit", 0, "stop after N rows (0 dumps every row)")
	ticks := fs.String("ticks", "", "comma-separated columns to render as Windows timestamps")
	fs.Usage = func() {
		fmt.Println("Usage: esedump dump [-v] [-format text|json|msgpack] [-limit N] [-ticks col,...] <dbfile> <table>")
	}
	fs.Parse(args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	opts, err := newDumpOptions(*format, *limit, *ticks)
	if err != nil {
		return err
	}
	db, err := of.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := dumpTable(os.Stdout, db, fs.Arg(1), opts)
	if err != nil {
		return err
	}
	if opts.format == formatText {
		fmt.Printf("(%d row(s))\n", n)
	}
	return nil
}

func runExport(args []string) error {
	var of openFlags
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	of.register(fs)
	format := fs.String("format", formatJSON, "output format: json or msgpack")
	out := fs.String("out", ".", "directory receiving one file per table")
	jobs := fs.Int("j", 4, "tables exported concurrently")
	fs.Usage = func() {
		fmt.Println("Usage: esedump export [-v] [-format json|msgpack] [-out DIR] [-j N] <dbfile> [table...]")
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	if *format == formatText {
		return fmt.Errorf("export writes json or msgpack, not %s", *format)
	}
	if _, err := newDumpOptions(*format, 0, ""); err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	db, err := of.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	tables := fs.Args()[1:]
	if len(tables) == 0 {
		tables = db.Tables()
	}
	results, err := exportTables(context.Background(), db, tables, *out, *format, *jobs)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s  %d row(s) -> %s\n", labelStyle.Render(r.Table), r.Rows, r.Path)
	}
	return nil
}
