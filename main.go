// netgrok reads annotated connection logs (or a packet capture) and prints
// one record per completed HTTP or HTTPS session.
//
// With no flags it is a plain filter: annotated lines on stdin, one JSON
// object per session on stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const version = "0.3.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "netgrok: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := newFlagSet(&opts)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.version {
		fmt.Printf("netgrok v%s\n", version)
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := opts.config(flagSet)
	if err != nil {
		return err
	}

	log, err := SetupLoggingFromConfig(cfg.Logging, "")
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	svc, err := NewService(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer exitOnSecondSignal(ctx, log, syscall.SIGINT, syscall.SIGTERM)()

	return svc.Run(ctx)
}

// options holds the command-line flags. Flags that were set override the
// config file, which overrides Default().
type options struct {
	configPath  string
	input       string
	output      string
	format      string
	inputFormat string
	compression string
	flowID      bool
	logLevel    string
	logFormat   string
	version     bool
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("netgrok", pflag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to a YAML or JSON (comments allowed) config file")
	fs.StringVarP(&o.input, "input", "i", "-", "input file, - for stdin")
	fs.StringVarP(&o.output, "output", "o", "-", "output file, - for stdout")
	fs.StringVar(&o.format, "format", "json", "record format: json or cbor")
	fs.StringVar(&o.inputFormat, "input-format", "auto", "input format: auto, text or pcap")
	fs.StringVar(&o.compression, "compression", "auto", "input compression: auto, none, gzip, zstd or lz4")
	fs.BoolVar(&o.flowID, "flow-id", false, "add a flow_id derived from the connection 4-tuple to each record")
	fs.StringVar(&o.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&o.logFormat, "log-format", "", "log format: auto, text or json")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  netgrok [flags] < annotated.log\n\nFlags:\n%s", fs.FlagUsages())
	}
	return fs
}

func (o *options) config(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if o.configPath != "" {
		loaded, err := LoadConfig(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	overrides := []struct {
		flag string
		dst  *string
		val  string
	}{
		{"input", &cfg.Input.Path, o.input},
		{"output", &cfg.Output.Path, o.output},
		{"format", &cfg.Output.Format, o.format},
		{"input-format", &cfg.Input.Format, o.inputFormat},
		{"compression", &cfg.Input.Compression, o.compression},
		{"log-level", &cfg.Logging.Level, o.logLevel},
		{"log-format", &cfg.Logging.Format, o.logFormat},
	}
	for _, ov := range overrides {
		if fs.Changed(ov.flag) {
			*ov.dst = ov.val
		}
	}
	if fs.Changed("flow-id") {
		cfg.Output.FlowID = o.flowID
	}
	return cfg, cfg.Validate()
}
