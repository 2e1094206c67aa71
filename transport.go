package main

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gorilla/websocket"
)

// initMessage is the one-time format handshake: always the first message a
// session puts on the wire. Field names are camelCase per the protocol.
type initMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	FrameSize  int    `json:"frameSize"`
}

// statsMessage is the periodic client traffic report. elapsedSec counts
// from the moment the session main loop begins, with millisecond precision.
type statsMessage struct {
	Type       string  `json:"type"`
	ElapsedSec float64 `json:"elapsedSec"`
	Frames     uint64  `json:"frames"`
	Bytes      uint64  `json:"bytes"`
}

const (
	wireFormat    = "S16LE"
	statsInterval = time.Second

	// dialTimeout caps the websocket handshake so Start cannot hang on an
	// unresponsive converter.
	dialTimeout = 10 * time.Second
)

// frameSink is handed every outbound frame before it is sent (the WAV tap).
type frameSink interface {
	WriteFrame([]byte) error
}

// Session owns one websocket connection for the lifetime of a stream. The
// main loop is the connection's only writer; a single reader goroutine pumps
// the receive side. Counters are touched exclusively by the main loop and
// reset only at session creation.
type Session struct {
	conn *websocket.Conn
	cfg  AudioConfig

	out <-chan []byte // frames from the capture path
	in  chan<- []byte // frames to the playback path

	tap frameSink // optional, set before run

	frames uint64 // outbound binary messages sent
	bytes  uint64 // outbound binary payload bytes sent
}

// dialSession opens the websocket and sends the init handshake. Any failure
// up to and including the handshake maps to ErrNetworkUnreachable; no
// streaming has happened yet, so the caller can surface it synchronously.
func dialSession(url string, cfg AudioConfig, out <-chan []byte, in chan<- []byte) (*Session, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetworkUnreachable, url, err)
	}

	init := initMessage{
		Type:       "init",
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Format:     wireFormat,
		FrameSize:  cfg.FrameSize,
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: send init: %v", ErrNetworkUnreachable, err)
	}

	return &Session{conn: conn, cfg: cfg, out: out, in: in}, nil
}

// setTap attaches a sink that observes every outbound frame.
func (s *Session) setTap(sink frameSink) { s.tap = sink }

// run ships outbound frames as binary messages, forwards inbound frames to
// the playback queue via the reader goroutine and emits a stats report every
// second. It returns nil when stop is raised and ErrNetworkClosed when the
// socket fails mid-session. The connection is closed on return.
func (s *Session) run(stop <-chan struct{}) error {
	started := time.Now()

	readerStop := make(chan struct{})
	readerDone := make(chan struct{})
	go s.reader(readerStop, readerDone)

	defer func() {
		close(readerStop)
		s.conn.Close()
		<-readerDone
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil

		case <-readerDone:
			return fmt.Errorf("%w: receive side closed", ErrNetworkClosed)

		case data := <-s.out:
			if s.tap != nil {
				if err := s.tap.WriteFrame(data); err != nil {
					log.Printf("[session] tap write: %v", err)
					s.tap = nil
				}
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return fmt.Errorf("%w: send frame: %v", ErrNetworkClosed, err)
			}
			s.frames++
			s.bytes += uint64(len(data))

		case <-ticker.C:
			if err := s.sendStats(time.Since(started)); err != nil {
				return fmt.Errorf("%w: send stats: %v", ErrNetworkClosed, err)
			}
		}
	}
}

// sendStats emits one stats text message with three-decimal elapsed seconds.
func (s *Session) sendStats(elapsed time.Duration) error {
	return s.conn.WriteJSON(statsMessage{
		Type:       "stats",
		ElapsedSec: math.Round(elapsed.Seconds()*1000) / 1000,
		Frames:     s.frames,
		Bytes:      s.bytes,
	})
}

// reader pumps inbound messages until the socket or the session closes.
// Binary frames of the advertised size go to the playback queue; the send
// blocks when the queue is full, which is the backpressure point that
// throttles the converter. Frames of any other size and non-binary messages
// are discarded.
func (s *Session) reader(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	want := s.cfg.FrameBytes()
	var badSize uint64
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if badSize > 0 {
				log.Printf("[session] discarded %d inbound frames of unexpected size", badSize)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if len(data) != want {
			if badSize == 0 {
				log.Printf("[session] inbound frame of %d bytes, want %d — dropping", len(data), want)
			}
			badSize++
			continue
		}
		select {
		case s.in <- data:
		case <-stop:
			return
		}
	}
}
