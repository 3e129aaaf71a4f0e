package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Service wires input, tracker and sinks together.
type Service struct {
	cfg    Config
	log    Logger
	Stdin  io.ReadCloser
	Stdout io.Writer
}

func NewService(cfg Config, log Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Service{cfg: cfg, log: log, Stdin: os.Stdin, Stdout: os.Stdout}, nil
}

// Run processes the whole input. Cancelling ctx closes the input so a
// blocked read returns; the run then ends like a normal end of input.
func (s *Service) Run(ctx context.Context) (err error) {
	sink, err := s.openSink()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	src, err := openInput(s.cfg.Input.Path, s.Stdin)
	if err != nil {
		return err
	}
	if src != s.Stdin {
		defer src.Close()
	}
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	compression, err := parseCompression(s.cfg.Input.Compression)
	if err != nil {
		return err
	}
	in, err := NewInput(src, compression)
	if err != nil {
		return err
	}
	defer in.Close()

	tracker := NewTracker(sink, s.log)
	if s.cfg.Output.FlowID {
		tracker.WithFlowID(FlowID)
	}

	format := strings.ToLower(s.cfg.Input.Format)
	if format == "" || format == "auto" {
		format = "text"
		if in.IsCapture() {
			format = "pcap"
		}
	}
	s.log.Debugf("input %s format=%s compression=%s", displayPath(s.cfg.Input.Path), format, in.Compression)

	switch format {
	case "pcap":
		capture := NewCapture(s.cfg.Input.Capture, s.log, tracker.Feed)
		err = capture.Run(ctx, in.Reader)
		cs := capture.Stats()
		s.log.Infof("capture: %d packets, %d streams (%d skipped), %d lines rendered",
			cs.Packets, cs.Streams, cs.SkippedStreams, cs.Lines)
	default:
		err = tracker.Run(ctx, in)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrUnknownProtocol) {
		err = nil
	}

	st := tracker.Stats()
	s.log.Infof("processed %d lines: %d connections, %d promotions, %d sessions emitted, %d ignored",
		st.Lines, st.Connections, st.Promotions, st.Emitted, st.Ignored)
	return err
}

func (s *Service) openSink() (Sink, error) {
	out := s.cfg.Output
	var w io.Writer = s.Stdout
	if out.Path != "" && out.Path != "-" {
		f, err := os.Create(out.Path)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		w = f
	} else if strings.EqualFold(out.Format, "cbor") && isTerminal(w) {
		return nil, errors.New("refusing to write CBOR to a terminal; use --output or a pipe")
	}

	local, err := newFormatSink(out.Format, w)
	if err != nil {
		return nil, err
	}
	if !out.RemoteHost.Enabled {
		return local, nil
	}
	remote, err := NewRemoteSink(out.RemoteHost, out.Format, s.log)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return multiSink{local, remote}, nil
}

func displayPath(p string) string {
	if p == "" || p == "-" {
		return "stdin"
	}
	return p
}
