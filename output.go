package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Sink receives completed session records.
type Sink interface {
	WriteRecord(rec Record) error
	Close() error
}

// recordEncoder serializes one record per call.
type recordEncoder interface {
	Encode(v any) error
}

// encoderSink writes records to a stream with a format-specific encoder.
type encoderSink struct {
	enc    recordEncoder
	closer io.Closer
}

// NewJSONSink writes one JSON object per line.
func NewJSONSink(w io.Writer) Sink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &encoderSink{enc: enc, closer: asCloser(w)}
}

var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("netgrok: CBOR encoder initialization failed: " + err.Error())
	}
}

// NewCBORSink writes a CBOR sequence, one deterministic data item per record.
func NewCBORSink(w io.Writer) Sink {
	return &encoderSink{enc: cborMode.NewEncoder(w), closer: asCloser(w)}
}

func newFormatSink(format string, w io.Writer) (Sink, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONSink(w), nil
	case "cbor":
		return NewCBORSink(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func (s *encoderSink) WriteRecord(rec Record) error { return s.enc.Encode(rec) }

func (s *encoderSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// asCloser returns w as a Closer unless it is a process standard stream.
func asCloser(w io.Writer) io.Closer {
	c, ok := w.(io.Closer)
	if !ok || w == io.Writer(os.Stdout) || w == io.Writer(os.Stderr) {
		return nil
	}
	return c
}

// multiSink fans a record out to several sinks and joins their errors.
type multiSink []Sink

func (m multiSink) WriteRecord(rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// remoteSink forwards encoded records to a TCP collector. Delivery is best
// effort: failures are logged and never stop the tracker.
type remoteSink struct {
	target *tcpTarget
	buf    bytes.Buffer
	enc    Sink
}

func NewRemoteSink(cfg RemoteOutputConfig, format string, log Logger) (Sink, error) {
	s := &remoteSink{
		target: newTCPTarget(cfg.Host, cfg.Port, cfg.Timeouts, log),
	}
	enc, err := newFormatSink(format, &s.buf)
	if err != nil {
		return nil, err
	}
	s.enc = enc
	return s, nil
}

func (s *remoteSink) WriteRecord(rec Record) error {
	s.buf.Reset()
	if err := s.enc.WriteRecord(rec); err != nil {
		return err
	}
	s.target.send(context.Background(), s.buf.Bytes())
	return nil
}

func (s *remoteSink) Close() error {
	s.target.Close()
	return nil
}

// tcpTarget maintains a single persistent TCP connection with automatic reconnects.
type tcpTarget struct {
	address string
	timeout time.Duration
	write   time.Duration
	mu      sync.Mutex
	conn    net.Conn
	log     Logger
}

func newTCPTarget(host string, port int, t TimeoutConfig, log Logger) *tcpTarget {
	timeout := time.Duration(t.Connect) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	write := time.Duration(t.Write) * time.Second
	if write <= 0 {
		write = 5 * time.Second
	}
	return &tcpTarget{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
		write:   write,
		log:     log,
	}
}

func (t *tcpTarget) send(ctx context.Context, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.connectLocked(ctx); err != nil {
			t.log.Warnf("output connect %s failed: %v", t.address, err)
			return
		}
	}

	err := t.writeLocked(ctx, data)
	if err == nil {
		return
	}

	t.log.Warnf("output write to %s failed, reconnecting: %v", t.address, err)
	_ = t.conn.Close()
	t.conn = nil

	// attempt reconnect once
	if err := t.connectLocked(ctx); err != nil {
		t.log.Warnf("output reconnect %s failed: %v", t.address, err)
		return
	}
	if err := t.writeLocked(ctx, data); err != nil {
		t.log.Warnf("output write after reconnect %s failed: %v", t.address, err)
	}
}

func (t *tcpTarget) writeLocked(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.write))
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTarget) connectLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return err
	}
	t.conn = conn
	t.log.Infof("connected to %s", t.address)
	return nil
}

func (t *tcpTarget) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
