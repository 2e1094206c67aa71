package main

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/stargazingv3/voice-changer/internal/frame"
)

const (
	defaultSampleRate = 48000
	defaultChannels   = 1
	defaultFrameSize  = 480 // 10 ms @ 48 kHz

	// queueDepth bounds each direction's frame queue: ~640 ms at 10 ms
	// frames. Capture drops on overflow; the network side blocks instead.
	queueDepth = 64
)

// AudioConfig is the negotiated wire contract. It is immutable for the
// lifetime of a stream: every binary message in either direction carries
// exactly FrameBytes() bytes of S16LE PCM.
type AudioConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int // samples per channel per frame
}

// DefaultAudioConfig returns the standard contract: 48 kHz mono, 10 ms frames.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: defaultSampleRate, Channels: defaultChannels, FrameSize: defaultFrameSize}
}

// FrameBytes returns the byte length of one wire frame.
func (c AudioConfig) FrameBytes() int { return c.FrameSize * c.Channels * 2 }

func (c AudioConfig) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.FrameSize <= 0 {
		return fmt.Errorf("invalid audio config %+v", c)
	}
	return nil
}

// sampleFormat is a device sample format the engine can read or write.
type sampleFormat int

const (
	formatI16 sampleFormat = iota
	formatF32
)

func (f sampleFormat) String() string {
	if f == formatF32 {
		return "f32"
	}
	return "i16"
}

// deviceConfig is the concrete stream configuration chosen for one device.
// The sample rate and channel count may differ from the wire contract; the
// callbacks bridge the difference (down-mix on capture, duplication and
// format conversion on playback). No resampling is performed.
type deviceConfig struct {
	dev        *portaudio.DeviceInfo
	channels   int
	sampleRate float64
	format     sampleFormat
}

// AudioDevice describes an available audio device.
type AudioDevice struct {
	ID   int
	Name string
}

// ListInputDevices returns available audio input devices.
// PortAudio must be initialized.
func ListInputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns available audio output devices.
// PortAudio must be initialized.
func ListOutputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

// listDevices returns devices matching the given predicate.
func listDevices(match func(*portaudio.DeviceInfo) bool) []AudioDevice {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Printf("[audio] list devices: %v", err)
		return nil
	}
	var out []AudioDevice
	for i, d := range devices {
		if match(d) {
			out = append(out, AudioDevice{ID: i, Name: d.Name})
		}
	}
	return out
}

// resolveDevice returns the device at idx if valid, otherwise calls fallback.
func resolveDevice(idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, err
		}
		if idx < len(devices) {
			return devices[idx], nil
		}
	}
	return fallback()
}

// paStream abstracts a PortAudio callback stream for testing.
type paStream interface {
	Start() error
	Stop() error
	Close() error
}

// AudioEngine owns the capture and playback device streams and the two
// bounded frame queues that bridge the host audio callbacks with the
// network session. The capture callback is the sole producer of out and
// the playback callback the sole consumer of in, so neither side needs a
// lock on the hot path.
type AudioEngine struct {
	cfg AudioConfig

	inputDeviceID  int // -1 = host default
	outputDeviceID int

	captureStream  paStream
	playbackStream paStream
	paUp           bool // PortAudio initialized by this engine

	out chan []byte // capture → session
	in  chan []byte // session → playback

	accum *frame.Accumulator // capture scratch, drained in whole frames
	carry []int16            // playback remainder of a partially consumed frame

	// captureDropped counts frames discarded because the outbound queue was
	// full. Incremented on the capture callback thread, read at Stop.
	captureDropped atomic.Uint64
}

// newAudioEngine returns an engine for the given wire contract. Device
// indexes below zero select the host defaults.
func newAudioEngine(cfg AudioConfig, inputDeviceID, outputDeviceID int) *AudioEngine {
	return &AudioEngine{
		cfg:            cfg,
		inputDeviceID:  inputDeviceID,
		outputDeviceID: outputDeviceID,
		out:            make(chan []byte, queueDepth),
		in:             make(chan []byte, queueDepth),
		accum:          frame.NewAccumulator(cfg.FrameSize * cfg.Channels),
	}
}

// Outbound is the queue of captured frames ready to ship to the converter.
func (e *AudioEngine) Outbound() <-chan []byte { return e.out }

// Inbound is the queue of converted frames awaiting playback.
func (e *AudioEngine) Inbound() chan<- []byte { return e.in }

// Start initializes PortAudio, picks device configurations and starts both
// streams. Native audio APIs tie stream state to the creating thread, so
// Start and Stop must run on the same locked worker goroutine.
func (e *AudioEngine) Start() error {
	if err := e.cfg.validate(); err != nil {
		return err
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	e.paUp = true

	inCfg, err := e.selectInputConfig()
	if err != nil {
		e.Stop()
		return err
	}
	outCfg, err := e.selectOutputConfig()
	if err != nil {
		e.Stop()
		return err
	}

	capture, err := portaudio.OpenStream(captureParams(inCfg), e.captureCallback(inCfg.channels))
	if err != nil {
		e.Stop()
		return fmt.Errorf("open capture stream: %w", err)
	}
	e.captureStream = capture

	var playback *portaudio.Stream
	switch outCfg.format {
	case formatI16:
		playback, err = portaudio.OpenStream(playbackParams(outCfg), e.playbackI16(outCfg.channels))
	case formatF32:
		playback, err = portaudio.OpenStream(playbackParams(outCfg), e.playbackF32(outCfg.channels))
	}
	if err != nil {
		e.Stop()
		return fmt.Errorf("open playback stream: %w", err)
	}
	e.playbackStream = playback

	if err := capture.Start(); err != nil {
		e.Stop()
		return fmt.Errorf("start capture stream: %w", err)
	}
	if err := playback.Start(); err != nil {
		e.Stop()
		return fmt.Errorf("start playback stream: %w", err)
	}

	log.Printf("[audio] started capture=%q %dch@%.0f playback=%q %dch@%.0f/%s",
		inCfg.dev.Name, inCfg.channels, inCfg.sampleRate,
		outCfg.dev.Name, outCfg.channels, outCfg.sampleRate, outCfg.format)
	return nil
}

// Stop halts and frees both streams, terminates PortAudio and drains any
// stale inbound frames so they cannot bleed into a later session. Safe to
// call at any point of a partially completed Start.
func (e *AudioEngine) Stop() {
	if e.captureStream != nil {
		e.captureStream.Stop()
		e.captureStream.Close()
		e.captureStream = nil
	}
	if e.playbackStream != nil {
		e.playbackStream.Stop()
		e.playbackStream.Close()
		e.playbackStream = nil
	}
	if e.paUp {
		portaudio.Terminate()
		e.paUp = false
	}

	for {
		select {
		case <-e.in:
		default:
			e.carry = nil
			e.accum.Reset()
			if n := e.captureDropped.Load(); n > 0 {
				log.Printf("[audio] stopped (%d capture frames dropped)", n)
			} else {
				log.Println("[audio] stopped")
			}
			return
		}
	}
}

// selectInputConfig picks the capture configuration. Preference ladder:
// the wire channel count in I16, then stereo I16. Many devices expose only
// stereo, so stereo is an accepted fallback that the callback down-mixes.
func (e *AudioEngine) selectInputConfig() (deviceConfig, error) {
	dev, err := resolveDevice(e.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil || dev == nil {
		return deviceConfig{}, fmt.Errorf("%w: no input device: %v", ErrDeviceUnavailable, err)
	}
	for _, ch := range inputChannelLadder(e.cfg.Channels) {
		if ch > dev.MaxInputChannels {
			continue
		}
		if rate, ok := probeRate(inputParams(dev, ch), func([]int16) {}, e.cfg.SampleRate, dev.DefaultSampleRate); ok {
			return deviceConfig{dev: dev, channels: ch, sampleRate: rate, format: formatI16}, nil
		}
	}
	return deviceConfig{}, fmt.Errorf("%w: %q supports no i16 input configuration", ErrDeviceUnavailable, dev.Name)
}

// selectOutputConfig picks the playback configuration. Preference ladder:
// wire channels I16, stereo I16, wire channels F32, stereo F32, then the
// device's full channel count in F32 as a last resort. I16 first because it
// needs no conversion; mono first to avoid up-mix work.
func (e *AudioEngine) selectOutputConfig() (deviceConfig, error) {
	dev, err := resolveDevice(e.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil || dev == nil {
		return deviceConfig{}, fmt.Errorf("%w: no output device: %v", ErrDeviceUnavailable, err)
	}

	type candidate struct {
		channels int
		format   sampleFormat
	}
	var cands []candidate
	for _, f := range []sampleFormat{formatI16, formatF32} {
		for _, ch := range inputChannelLadder(e.cfg.Channels) {
			cands = append(cands, candidate{channels: ch, format: f})
		}
	}
	if ch := dev.MaxOutputChannels; ch > 0 {
		cands = append(cands, candidate{channels: ch, format: formatF32})
	}

	for _, c := range cands {
		if c.channels > dev.MaxOutputChannels {
			continue
		}
		var probe any = func([]int16) {}
		if c.format == formatF32 {
			probe = func([]float32) {}
		}
		if rate, ok := probeRate(outputParams(dev, c.channels), probe, e.cfg.SampleRate, dev.DefaultSampleRate); ok {
			return deviceConfig{dev: dev, channels: c.channels, sampleRate: rate, format: c.format}, nil
		}
	}
	return deviceConfig{}, fmt.Errorf("%w: %q offers neither i16 nor f32 output", ErrConfigUnsupported, dev.Name)
}

// inputChannelLadder returns the channel counts to try, most preferred
// first, without duplicates.
func inputChannelLadder(wireChannels int) []int {
	if wireChannels == 2 {
		return []int{2}
	}
	return []int{wireChannels, 2}
}

// probeRate asks PortAudio whether the parameterized stream is supported at
// the wanted rate, falling back to the device default rate. probeArg is a
// callback value whose signature fixes the sample format under test.
func probeRate(p portaudio.StreamParameters, probeArg any, want int, deviceDefault float64) (float64, bool) {
	p.SampleRate = float64(want)
	if portaudio.IsFormatSupported(p, probeArg) == nil {
		return p.SampleRate, true
	}
	p.SampleRate = deviceDefault
	if portaudio.IsFormatSupported(p, probeArg) == nil {
		return p.SampleRate, true
	}
	return 0, false
}

func inputParams(dev *portaudio.DeviceInfo, channels int) portaudio.StreamParameters {
	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
}

func outputParams(dev *portaudio.DeviceInfo, channels int) portaudio.StreamParameters {
	return portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
}

func captureParams(c deviceConfig) portaudio.StreamParameters {
	p := inputParams(c.dev, c.channels)
	p.SampleRate = c.sampleRate
	return p
}

func playbackParams(c deviceConfig) portaudio.StreamParameters {
	p := outputParams(c.dev, c.channels)
	p.SampleRate = c.sampleRate
	return p
}

// captureCallback returns the input callback for a device delivering
// interleaved int16 frames deviceChannels wide. It runs on the host audio
// thread: no blocking, no locks, allocation only to grow the scratch
// buffer and to materialize outbound frames. When the outbound queue is
// full the frame is dropped — realtime wins over completeness.
func (e *AudioEngine) captureCallback(deviceChannels int) func([]int16) {
	return func(in []int16) {
		e.accum.Push(in, deviceChannels)
		for {
			data, ok := e.accum.Next()
			if !ok {
				return
			}
			select {
			case e.out <- data:
			default:
				e.captureDropped.Add(1)
			}
		}
	}
}

// playbackI16 returns the output callback for an int16 device. Each queued
// mono sample is written to every device channel; the remainder of the
// buffer is zeroed on underrun.
func (e *AudioEngine) playbackI16(deviceChannels int) func([]int16) {
	return func(out []int16) {
		idx := 0
		for idx < len(out) {
			s, ok := e.nextSample()
			if !ok {
				for ; idx < len(out); idx++ {
					out[idx] = 0
				}
				return
			}
			for c := 0; c < deviceChannels && idx < len(out); c++ {
				out[idx] = s
				idx++
			}
		}
	}
}

// playbackF32 is playbackI16 for float32 devices; samples convert as s/32768.
func (e *AudioEngine) playbackF32(deviceChannels int) func([]float32) {
	return func(out []float32) {
		idx := 0
		for idx < len(out) {
			s, ok := e.nextSample()
			if !ok {
				for ; idx < len(out); idx++ {
					out[idx] = 0
				}
				return
			}
			v := float32(s) / 32768.0
			for c := 0; c < deviceChannels && idx < len(out); c++ {
				out[idx] = v
				idx++
			}
		}
	}
}

// nextSample returns the next queued mono sample. The carry holds the
// unconsumed tail of the last dequeued frame so device buffers that are not
// frame-aligned lose no samples between callbacks. ok is false on underrun.
func (e *AudioEngine) nextSample() (int16, bool) {
	if len(e.carry) == 0 {
		select {
		case data := <-e.in:
			e.carry = frame.Samples(data)
		default:
			return 0, false
		}
		if len(e.carry) == 0 {
			return 0, false
		}
	}
	s := e.carry[0]
	e.carry = e.carry[1:]
	return s, true
}
