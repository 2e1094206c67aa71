package main

import (
	"errors"
	"log"
	"runtime"
	"sync"

	"github.com/stargazingv3/voice-changer/internal/wavtap"
)

// Error taxonomy surfaced by Start. Mid-session failures are logged inside
// the worker and never propagate past it.
var (
	ErrDeviceUnavailable  = errors.New("audio device unavailable")
	ErrConfigUnsupported  = errors.New("audio output format unsupported")
	ErrNetworkUnreachable = errors.New("converter unreachable")
	ErrNetworkClosed      = errors.New("converter connection closed")
)

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	}
	return "unknown"
}

// StreamHandle is the caller's reference to a running stream. It owns the
// stop signal and the join point for the worker goroutine.
type StreamHandle struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stop raises the stop signal and waits for the worker to exit. Idempotent:
// a second call, or a call after the session already died, returns
// immediately.
func (h *StreamHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// App is the stream controller. It presents a synchronous Start/Stop
// contract to the shell while a dedicated worker goroutine — pinned to its
// OS thread, since native audio APIs tie stream state to the creating
// thread — owns the device streams and drives the network session.
type App struct {
	mu     sync.Mutex
	state  State
	handle *StreamHandle

	inputDeviceID  int
	outputDeviceID int
	tapPath        string

	// Constructor seams so the controller is testable without PortAudio or
	// a network (see interfaces.go).
	newEngine func(cfg AudioConfig, inputDeviceID, outputDeviceID int) streamEngine
	dial      func(url string, cfg AudioConfig, out <-chan []byte, in chan<- []byte) (streamSession, error)
}

// NewApp creates a controller wired to the real engine and session.
func NewApp() *App {
	return &App{
		inputDeviceID:  -1,
		outputDeviceID: -1,
		newEngine: func(cfg AudioConfig, inID, outID int) streamEngine {
			return newAudioEngine(cfg, inID, outID)
		},
		dial: func(url string, cfg AudioConfig, out <-chan []byte, in chan<- []byte) (streamSession, error) {
			return dialSession(url, cfg, out, in)
		},
	}
}

// SetInputDevice selects the capture device by index (-1 = host default).
// Takes effect on the next Start.
func (a *App) SetInputDevice(id int) {
	a.mu.Lock()
	a.inputDeviceID = id
	a.mu.Unlock()
}

// SetOutputDevice selects the playback device by index (-1 = host default).
func (a *App) SetOutputDevice(id int) {
	a.mu.Lock()
	a.outputDeviceID = id
	a.mu.Unlock()
}

// SetTapPath enables recording of outbound frames to a WAV file at path.
// Empty disables. Takes effect on the next Start.
func (a *App) SetTapPath(path string) {
	a.mu.Lock()
	a.tapPath = path
	a.mu.Unlock()
}

// State returns the current lifecycle state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start brings up the capture/playback/network triad and returns once the
// worker has finished device and socket setup, so setup failures surface
// synchronously. Starting while a stream is already up is a no-op that
// returns the existing handle.
func (a *App) Start(url string, cfg AudioConfig) (*StreamHandle, error) {
	a.mu.Lock()
	if a.state == StateStarting || a.state == StateRunning {
		h := a.handle
		a.mu.Unlock()
		return h, nil
	}
	a.state = StateStarting
	h := &StreamHandle{stop: make(chan struct{}), done: make(chan struct{})}
	a.handle = h
	tapPath := a.tapPath
	inID, outID := a.inputDeviceID, a.outputDeviceID
	a.mu.Unlock()

	ready := make(chan error, 1)
	go a.worker(url, cfg, inID, outID, tapPath, h, ready)

	if err := <-ready; err != nil {
		<-h.done // the worker exits right after reporting a setup failure
		return nil, err
	}

	a.mu.Lock()
	if a.handle == h { // the session may already have died
		a.state = StateRunning
	}
	a.mu.Unlock()
	return h, nil
}

// Stop terminates the active stream, if any, and waits for the worker.
func (a *App) Stop() {
	a.mu.Lock()
	h := a.handle
	if h == nil {
		a.mu.Unlock()
		return
	}
	a.state = StateTerminating
	a.mu.Unlock()
	h.Stop()
}

// worker owns the engine and the session for one stream lifetime. It
// reports the outcome of the setup phase on ready exactly once, then runs
// the session until the stop signal or a network failure.
func (a *App) worker(url string, cfg AudioConfig, inID, outID int, tapPath string, h *StreamHandle, ready chan<- error) {
	defer close(h.done)
	defer a.streamExited(h)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	eng := a.newEngine(cfg, inID, outID)
	if err := eng.Start(); err != nil {
		ready <- err
		return
	}
	defer eng.Stop()

	sess, err := a.dial(url, cfg, eng.Outbound(), eng.Inbound())
	if err != nil {
		ready <- err
		return
	}

	if tapPath != "" {
		tap, err := wavtap.Create(tapPath, cfg.SampleRate, cfg.Channels)
		if err != nil {
			log.Printf("[app] tap disabled: %v", err)
		} else {
			sess.setTap(tap)
			defer func() {
				if err := tap.Close(); err != nil {
					log.Printf("[app] close tap: %v", err)
				}
			}()
		}
	}

	ready <- nil

	if err := sess.run(h.stop); err != nil {
		log.Printf("[app] session ended: %v", err)
	}
}

// streamExited resets the controller to Idle when its current worker winds
// down, whether by stop or by a mid-session failure. The handle stays valid
// for a late Stop, which then degenerates to a no-op join.
func (a *App) streamExited(h *StreamHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == h {
		a.handle = nil
		a.state = StateIdle
	}
}
