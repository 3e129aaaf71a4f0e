package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Tracker reconstructs HTTP/HTTPS sessions from an annotated line stream.
// It holds exactly one in-progress session and is not safe for concurrent use.
type Tracker struct {
	session Session
	sink    Sink
	log     Logger
	stats   Stats
	flowID  func(Flow) string
}

func NewTracker(sink Sink, log Logger) *Tracker {
	return &Tracker{sink: sink, log: log}
}

// WithFlowID makes every emitted record carry an identifier derived from its
// connection 4-tuple.
func (t *Tracker) WithFlowID(fn func(Flow) string) *Tracker {
	t.flowID = fn
	return t
}

func (t *Tracker) Stats() Stats { return t.stats }

// Feed applies one input line to the session. Only a failing sink or a broken
// protocol invariant produce an error; malformed lines are ignored.
func (t *Tracker) Feed(line []byte) error {
	t.stats.Lines++
	words := tokenize(line)
	if len(words) == 0 {
		t.stats.Ignored++
		return nil
	}

	switch head := strings.ToLower(words[0]); {
	case head == "tcp" && len(words) > 4:
		t.connect(ProtoTCP, words)
	case head == "ssl" && len(words) > 4:
		t.connect(ProtoSSL, words)
	case head == "host:" && len(words) > 1:
		t.session.Host, t.session.HasHost = words[1], true
	case head == "referer:" && len(words) > 1:
		t.session.Referer, t.session.HasReferer = words[1], true
	case head == "</headers>" && t.session.Protocol.web():
		return t.emit()
	case !t.session.Protocol.web():
		for _, word := range words {
			if hasHTTPPrefix(word) {
				t.promote()
				return nil
			}
		}
		t.stats.Ignored++
	default:
		t.stats.Ignored++
	}
	return nil
}

func (t *Tracker) connect(proto Protocol, words []string) {
	t.session.Protocol = proto
	t.session.Flow = &Flow{
		SrcIP:   words[1],
		SrcPort: words[2],
		DstIP:   words[3],
		DstPort: words[4],
	}
	t.stats.Connections++
	t.log.Debugf("connection %s %s:%s -> %s:%s", proto, words[1], words[2], words[3], words[4])
}

func (t *Tracker) promote() {
	if t.session.Protocol == ProtoSSL {
		t.session.Protocol = ProtoHTTPS
	} else {
		t.session.Protocol = ProtoHTTP
	}
	t.stats.Promotions++
}

func (t *Tracker) emit() error {
	rec, err := t.record()
	if err != nil {
		t.log.Errorf("session state invariant broken: %v", err)
		return err
	}
	if err := t.sink.WriteRecord(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	t.stats.Emitted++
	t.log.Debugf("emitted %s session host=%q", rec.Protocol, t.session.Host)
	t.session.clearHeaders()
	return nil
}

func (t *Tracker) record() (Record, error) {
	name, err := t.session.Protocol.Name()
	if err != nil {
		return Record{}, err
	}
	rec := Record{Protocol: name}
	if f := t.session.Flow; f != nil {
		rec.SrcIP = strptr(f.SrcIP)
		rec.SrcPort = strptr(f.SrcPort)
		rec.DstIP = strptr(f.DstIP)
		rec.DstPort = strptr(f.DstPort)
		if t.flowID != nil {
			rec.FlowID = t.flowID(*f)
		}
	}
	if t.session.HasHost {
		rec.Host = strptr(t.session.Host)
	}
	if t.session.HasReferer {
		rec.Referer = strptr(t.session.Referer)
	}
	return rec, nil
}

// Run feeds every line of r until end of input. Cancelling ctx stops the
// loop between lines and is not reported as an error.
func (t *Tracker) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if ferr := t.Feed(line); ferr != nil {
				return ferr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read input: %w", err)
	}
}
