// Command gbx-log is a tool for viewing and analyzing GBXRemote protocol log
// files.
//
// Log files are created by gbx-console when started with --protocol-log, or by
// any program that wires a log.FileLogger into the client.
//
// Usage:
//
//	gbx-log <command> [flags] <file.glog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	gbx-log view session.glog
//
//	# View only decoded calls and callbacks
//	gbx-log view --layer rpc session.glog
//
//	# Follow a single request by handle
//	gbx-log view --handle 0x80000003 session.glog
//
//	# Export to JSONL
//	gbx-log export --format jsonl session.glog
//
//	# Keep only PlayerChat callbacks
//	gbx-log filter --method TrackMania.PlayerChat -o chat.glog session.glog
//
//	# Show statistics
//	gbx-log stats session.glog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/gbxremote/gbxremote-go/cmd/gbx-log/commands"
)

const usage = `gbx-log - GBXRemote Protocol Log Analyzer

Usage:
  gbx-log <command> [flags] <file.glog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "gbx-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func newFlagSet(name, synopsis, usageLine string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "gbx-log %s - %s\n\nUsage:\n  %s\n\nFlags:\n", name, synopsis, usageLine)
		fs.PrintDefaults()
	}
	return fs
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func requirePath(fs *pflag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format", "gbx-log view [flags] <file.glog>")

	layer := fs.String("layer", "", "Filter by layer (transport, rpc, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")
	method := fs.String("method", "", "Filter by method name")
	handle := fs.String("handle", "", "Filter by handle (decimal or 0x-prefixed hex)")
	hexData := fs.Bool("hex", false, "Print frame payloads as hex instead of text")

	exitOnError(fs.Parse(args))
	path := requirePath(fs)

	filter := commands.ViewFilter{Method: *method, Hex: *hexData}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		exitOnError(err)
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		exitOnError(err)
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		exitOnError(err)
		filter.Category = &c
	}
	if *handle != "" {
		h, err := commands.ParseHandleFlag(*handle)
		exitOnError(err)
		filter.Handle = &h
	}

	exitOnError(commands.RunView(path, filter, os.Stdout))
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSON or CSV format", "gbx-log export [flags] <file.glog>")

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")

	exitOnError(fs.Parse(args))
	path := requirePath(fs)

	exitOnError(commands.RunExport(path, *format, *output))
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file", "gbx-log filter [flags] <file.glog>")

	output := fs.StringP("output", "o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, rpc, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")
	method := fs.String("method", "", "Filter by method name")
	handle := fs.String("handle", "", "Filter by handle (decimal or 0x-prefixed hex)")

	exitOnError(fs.Parse(args))
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:    *output,
		ConnID:    *connID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
		Method:    *method,
		Handle:    *handle,
	}

	count, err := commands.RunFilter(path, opts)
	exitOnError(err)
	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file", "gbx-log stats <file.glog>")

	exitOnError(fs.Parse(args))
	path := requirePath(fs)

	exitOnError(commands.RunStats(path, os.Stdout))
}
