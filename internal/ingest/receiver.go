package ingest

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/metrics"
)

// FrameHandler receives one raw, not yet parsed frame with its source
// address and transport; the handler parses and routes it. The Router
// wires this to a Batcher.Submit per index.
type FrameHandler func(frame string, sourceIP net.IP, sourcePort int, protocol string)

// Receiver owns the UDP and TCP syslog listeners (spec.md §4.5). Each
// datagram is one frame; each TCP frame is newline-delimited unless it
// begins with a decimal octet count, in which case that many bytes form
// the frame. The check is made again for every frame of a connection.
type Receiver struct {
	logger    *logrus.Logger
	extractor *extract.Extractor
	handle    FrameHandler

	udpConn net.PacketConn
	tcpLn   net.Listener

	wg sync.WaitGroup
}

func NewReceiver(logger *logrus.Logger, extractor *extract.Extractor, handle FrameHandler) *Receiver {
	return &Receiver{logger: logger, extractor: extractor, handle: handle}
}

func (r *Receiver) ListenUDP(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	r.udpConn = conn
	r.wg.Add(1)
	go r.serveUDP(ctx, conn)
	r.logger.WithField("addr", addr).Info("syslog UDP listener started")
	return nil
}

func (r *Receiver) serveUDP(ctx context.Context, conn net.PacketConn) {
	defer r.wg.Done()
	buf := make([]byte, 64*1024)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Warn("udp read error")
			continue
		}
		frame := string(buf[:n])
		metrics.RecordIngestFrame("udp")

		host, portStr, splitErr := net.SplitHostPort(addr.String())
		var ip net.IP
		port := 0
		if splitErr == nil {
			ip = net.ParseIP(host)
			port, _ = strconv.Atoi(portStr)
		}
		r.handle(frame, ip, port, "udp")
	}
}

func (r *Receiver) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.tcpLn = ln
	r.wg.Add(1)
	go r.serveTCP(ctx, ln)
	r.logger.WithField("addr", addr).Info("syslog TCP listener started")
	return nil
}

func (r *Receiver) serveTCP(ctx context.Context, ln net.Listener) {
	defer r.wg.Done()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Warn("tcp accept error")
			continue
		}
		r.wg.Add(1)
		go r.serveTCPConn(ctx, conn)
	}
}

func (r *Receiver) serveTCPConn(ctx context.Context, conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	host, portStr, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
	var ip net.IP
	port := 0
	if splitErr == nil {
		ip = net.ParseIP(host)
		port, _ = strconv.Atoi(portStr)
	}

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		frame, err := readTCPFrame(reader)
		if err != nil {
			return
		}
		if frame == "" {
			continue
		}
		metrics.RecordIngestFrame("tcp")
		r.handle(frame, ip, port, "tcp")
	}
}

// readTCPFrame reads one frame from a syslog TCP stream: octet-counted
// framing ("123 <34>Oct ...") when the next frame starts with a decimal
// length token, newline-delimited otherwise (spec.md §4.5).
func readTCPFrame(reader *bufio.Reader) (string, error) {
	peek, err := reader.Peek(1)
	if err != nil {
		return "", err
	}
	if peek[0] >= '0' && peek[0] <= '9' {
		lengthStr, err := reader.ReadString(' ')
		if err != nil {
			return "", err
		}
		n, convErr := strconv.Atoi(trimTrailingSpace(lengthStr))
		if convErr == nil && n > 0 && n < 1<<20 {
			buf := make([]byte, n)
			if _, err := readFull(reader, buf); err != nil {
				return "", err
			}
			return string(buf), nil
		}
		// Not actually octet-counted (e.g. a message that happens to start
		// with digits); fall through treating what we consumed as part of
		// a newline-delimited line.
		rest, err := reader.ReadString('\n')
		return lengthStr + rest, err
	}

	line, err := reader.ReadString('\n')
	return trimTrailingNewline(line), err
}

func trimTrailingSpace(s string) string {
	if len(s) > 0 && s[len(s)-1] == ' ' {
		return s[:len(s)-1]
	}
	return s
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func readFull(reader *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *Receiver) Close() error {
	if r.udpConn != nil {
		r.udpConn.Close()
	}
	if r.tcpLn != nil {
		r.tcpLn.Close()
	}
	r.wg.Wait()
	return nil
}
