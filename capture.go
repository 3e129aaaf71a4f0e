package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
)

// Capture renders a packet capture into annotated lines. TCP payload is
// reassembled per stream; every time the rendering switches to another
// stream a connection line is written first. Everything runs on the caller's
// goroutine: the assembler invokes the streams synchronously.
type Capture struct {
	cfg       CaptureConfig
	log       Logger
	emit      func(line []byte) error
	assembler *tcpassembly.Assembler
	active    *stream
	err       error
	stats     CaptureStats
}

// CaptureStats counts what the renderer saw.
type CaptureStats struct {
	Packets        int64
	Streams        int64
	SkippedStreams int64
	Lines          int64
}

var headersEnd = []byte("</headers>")

func NewCapture(cfg CaptureConfig, log Logger, emit func(line []byte) error) *Capture {
	c := &Capture{cfg: cfg, log: log, emit: emit}
	pool := tcpassembly.NewStreamPool(&streamFactory{c: c})
	c.assembler = tcpassembly.NewAssembler(pool)
	return c
}

func (c *Capture) Stats() CaptureStats { return c.stats }

// Run reads a pcap or pcapng stream from r until it ends or ctx is done,
// then flushes every open stream.
func (c *Capture) Run(ctx context.Context, r io.Reader) error {
	src, err := packetSource(r)
	if err != nil {
		return err
	}

	for ctx.Err() == nil && c.err == nil {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			c.log.Warnf("capture truncated after %d packets", c.stats.Packets)
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("read capture: %w", err)
		}
		c.processPacket(pkt)
	}

	if c.err == nil {
		c.assembler.FlushAll()
	}
	return c.err
}

func packetSource(r io.Reader) (*gopacket.PacketSource, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	head, _ := br.Peek(4)
	if bytes.Equal(head, []byte{0x0a, 0x0d, 0x0d, 0x0a}) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return gopacket.NewPacketSource(pr, pr.LinkType()), nil
}

func (c *Capture) processPacket(pkt gopacket.Packet) {
	c.stats.Packets++
	tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		return
	}

	var netFlow gopacket.Flow
	if v4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		netFlow = v4.NetworkFlow()
	} else if v6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		netFlow = v6.NetworkFlow()
	} else {
		return
	}

	c.assembler.AssembleWithTimestamp(netFlow, tcp, pkt.Metadata().Timestamp)
}

func (c *Capture) write(line []byte) error {
	c.stats.Lines++
	return c.emit(line)
}

// streamFactory produces new TCP streams for the assembler.
type streamFactory struct {
	c *Capture
}

type stream struct {
	c         *Capture
	flow      Flow
	header    []byte
	skip      bool
	pending   []byte
	// block holds a request header block until its closing blank line.
	block [][]byte
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	c := f.c
	src, dst := netFlow.Endpoints()
	tcpSrc, tcpDst := tcpFlow.Endpoints()
	srcPort, dstPort := endpointPort(tcpSrc), endpointPort(tcpDst)

	s := &stream{
		c: c,
		flow: Flow{
			SrcIP:   net.IP(src.Raw()).String(),
			SrcPort: fmt.Sprint(srcPort),
			DstIP:   net.IP(dst.Raw()).String(),
			DstPort: fmt.Sprint(dstPort),
		},
	}
	s.detectDirection(srcPort, dstPort)

	c.stats.Streams++
	if s.skip {
		c.stats.SkippedStreams++
		c.log.Debugf("skipping response stream %s:%s -> %s:%s", s.flow.SrcIP, s.flow.SrcPort, s.flow.DstIP, s.flow.DstPort)
	}
	return s
}

func endpointPort(e gopacket.Endpoint) int {
	raw := e.Raw()
	if len(raw) != 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(raw))
}

// detectDirection tags the stream ssl or tcp and marks server-to-client
// streams as skipped unless responses are wanted.
func (s *stream) detectDirection(srcPort, dstPort int) {
	cfg := s.c.cfg
	isTLS := func(p int) bool { return slices.Contains(cfg.TLSPorts, p) }
	known := func(p int) bool { return isTLS(p) || slices.Contains(cfg.HTTPPorts, p) }

	tag := "tcp"
	if isTLS(srcPort) || isTLS(dstPort) {
		tag = "ssl"
	}
	s.header = fmt.Appendf(nil, "%s %s %s %s %s", tag, s.flow.SrcIP, s.flow.SrcPort, s.flow.DstIP, s.flow.DstPort)
	s.skip = known(srcPort) && !known(dstPort) && !cfg.IncludeResponses
}

func (s *stream) Reassembled(rs []tcpassembly.Reassembly) {
	if s.skip || s.c.err != nil {
		return
	}
	for _, r := range rs {
		s.pending = append(s.pending, r.Bytes...)
	}

	consumed := 0
	for {
		i := bytes.IndexByte(s.pending[consumed:], '\n')
		if i < 0 {
			break
		}
		line := s.pending[consumed : consumed+i]
		consumed += i + 1
		if err := s.render(line); err != nil {
			s.c.err = err
			return
		}
	}
	if consumed > 0 {
		s.pending = append([]byte(nil), s.pending[consumed:]...)
	}
}

func (s *stream) ReassemblyComplete() {
	if !s.skip && s.c.err == nil {
		if len(s.pending) > 0 {
			s.c.err = s.render(s.pending)
		}
		// An unterminated header block is written without the marker.
		if s.c.err == nil && s.block != nil {
			s.c.err = s.writeBlock(s.block)
		}
	}
	s.pending, s.block = nil, nil
	if s.c.active == s {
		s.c.active = nil
	}
}

// render handles one payload line. A request line opens a header block that
// is held until its blank line, then written in one piece and closed by the
// headers marker.
func (s *stream) render(line []byte) error {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	words := tokenize(line)
	blank := len(words) == 0
	if s.block != nil {
		if !blank {
			s.block = append(s.block, bytes.Clone(line))
			return nil
		}
		block := append(s.block, headersEnd)
		s.block = nil
		return s.writeBlock(block)
	}
	if blank {
		return nil
	}
	if isRequestLine(words) {
		s.block = [][]byte{bytes.Clone(line)}
		return nil
	}
	return s.writeBlock([][]byte{line})
}

// writeBlock writes lines contiguously, preceded by the connection line when
// another stream was written last.
func (s *stream) writeBlock(lines [][]byte) error {
	c := s.c
	if c.active != s {
		if err := c.write(s.header); err != nil {
			return err
		}
		c.active = s
	}
	for _, line := range lines {
		if err := c.write(line); err != nil {
			return err
		}
	}
	return nil
}
