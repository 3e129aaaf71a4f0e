package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func sampleRecord() Record {
	return Record{
		Protocol: "https",
		SrcIP:    strptr("10.0.0.1"),
		SrcPort:  strptr("5555"),
		DstIP:    strptr("10.0.0.2"),
		DstPort:  strptr("443"),
		Host:     strptr("example.com"),
		Referer:  strptr("https://example.com/?a=1&b=<2>"),
	}
}

func TestJSONSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	for i := 0; i < 2; i++ {
		if err := sink.WriteRecord(sampleRecord()); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	want := `{"protocol":"https","src_ip":"10.0.0.1","src_port":"5555","dst_ip":"10.0.0.2","dst_port":"443","host":"example.com","referer":"https://example.com/?a=1&b=<2>"}` + "\n"
	if got := buf.String(); got != want+want {
		t.Errorf("output mismatch\n got: %q\nwant: %q", got, want+want)
	}
}

func TestCBORSinkIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	rec := sampleRecord()
	rec.Referer = nil
	if err := NewCBORSink(&a).WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := NewCBORSink(&b).WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("same record encoded differently")
	}

	var decoded map[string]any
	if err := cbor.Unmarshal(a.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["protocol"] != "https" || decoded["host"] != "example.com" || decoded["dst_port"] != "443" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, ok := decoded["referer"]; ok {
		t.Error("absent referer was encoded")
	}
}

func TestCBORSinkNullAddresses(t *testing.T) {
	var buf bytes.Buffer
	if err := NewCBORSink(&buf).WriteRecord(Record{Protocol: "http"}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	var decoded map[string]any
	if err := cbor.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := decoded["src_ip"]
	if !ok || v != nil {
		t.Errorf("src_ip = %v (present %v), want null", v, ok)
	}
}

type failingSink struct{ err error }

func (s failingSink) WriteRecord(Record) error { return s.err }
func (s failingSink) Close() error             { return s.err }

func TestMultiSink(t *testing.T) {
	good := &recordingSink{}
	boom := errors.New("boom")
	m := multiSink{good, failingSink{err: boom}}
	if err := m.WriteRecord(sampleRecord()); !errors.Is(err, boom) {
		t.Errorf("WriteRecord error = %v, want %v", err, boom)
	}
	if len(good.records) != 1 {
		t.Errorf("healthy sink got %d records, want 1", len(good.records))
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close error = %v", err)
	}
	if !good.closed {
		t.Error("healthy sink not closed")
	}
}

func listen(t *testing.T) (net.Listener, RemoteOutputConfig) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	addr := ln.Addr().(*net.TCPAddr)
	return ln, RemoteOutputConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Timeouts: TimeoutConfig{Connect: 1, Write: 1},
	}
}

func TestRemoteSinkForwardsRecords(t *testing.T) {
	ln, cfg := listen(t)
	lines := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	sink, err := NewRemoteSink(cfg, "json", testLogger(t))
	if err != nil {
		t.Fatalf("NewRemoteSink: %v", err)
	}
	defer sink.Close()
	for i := 0; i < 2; i++ {
		if err := sink.WriteRecord(sampleRecord()); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case line := <-lines:
			var rec map[string]string
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				t.Fatalf("line %d: %v", i, err)
			}
			if rec["host"] != "example.com" {
				t.Errorf("line %d host = %q", i, rec["host"])
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for record %d", i)
		}
	}
}

func TestRemoteSinkUnreachableIsNotFatal(t *testing.T) {
	ln, cfg := listen(t)
	ln.Close()

	sink, err := NewRemoteSink(cfg, "json", testLogger(t))
	if err != nil {
		t.Fatalf("NewRemoteSink: %v", err)
	}
	if err := sink.WriteRecord(sampleRecord()); err != nil {
		t.Errorf("WriteRecord to unreachable collector = %v, want nil", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewFormatSinkRejectsUnknown(t *testing.T) {
	if _, err := newFormatSink("xml", &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("newFormatSink(xml) error = %v", err)
	}
}
