package main

import (
	"testing"

	"github.com/stargazingv3/voice-changer/internal/frame"
)

// --- Mock paStream for Stop() tests ---

// mockPAStream implements paStream for testing. Callback streams never
// block, so the mock only records lifecycle calls.
type mockPAStream struct {
	started bool
	stopped bool
	closed  bool
}

func (m *mockPAStream) Start() error { m.started = true; return nil }
func (m *mockPAStream) Stop() error  { m.stopped = true; return nil }
func (m *mockPAStream) Close() error { m.closed = true; return nil }

func testEngine(frameSize int) *AudioEngine {
	return newAudioEngine(AudioConfig{SampleRate: 48000, Channels: 1, FrameSize: frameSize}, -1, -1)
}

func monoFrame(samples ...int16) []byte { return frame.Bytes(samples) }

// --- Capture path ---

func TestCaptureCallbackStereoDownmixCancels(t *testing.T) {
	// A stereo device feeding left=+10000, right=-10000 must produce one
	// all-zero outbound frame.
	e := testEngine(4)
	cb := e.captureCallback(2)

	in := make([]int16, 0, 8)
	for i := 0; i < 4; i++ {
		in = append(in, 10000, -10000)
	}
	cb(in)

	select {
	case data := <-e.out:
		if len(data) != e.cfg.FrameBytes() {
			t.Fatalf("frame length = %d, want %d", len(data), e.cfg.FrameBytes())
		}
		for i, s := range frame.Samples(data) {
			if s < -1 || s > 1 {
				t.Errorf("sample %d = %d, want 0±1", i, s)
			}
		}
	default:
		t.Fatal("no outbound frame produced")
	}
	if len(e.out) != 0 {
		t.Fatalf("expected exactly one frame, found %d more", len(e.out))
	}
}

func TestCaptureCallbackReframesAcrossCallbacks(t *testing.T) {
	e := testEngine(3)
	cb := e.captureCallback(1)

	cb([]int16{1, 2})
	if len(e.out) != 0 {
		t.Fatal("frame emitted before enough samples accumulated")
	}

	cb([]int16{3, 4, 5, 6, 7})
	if len(e.out) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(e.out))
	}
	first := frame.Samples(<-e.out)
	second := frame.Samples(<-e.out)
	for i, want := range []int16{1, 2, 3} {
		if first[i] != want {
			t.Errorf("first frame sample %d = %d, want %d", i, first[i], want)
		}
	}
	for i, want := range []int16{4, 5, 6} {
		if second[i] != want {
			t.Errorf("second frame sample %d = %d, want %d", i, second[i], want)
		}
	}
}

func TestCaptureCallbackDropsWhenQueueFull(t *testing.T) {
	// With 1-sample frames, queueDepth+5 samples overflow the queue by 5.
	// Excess frames must be dropped, never duplicated or reordered.
	e := testEngine(1)
	cb := e.captureCallback(1)

	in := make([]int16, queueDepth+5)
	for i := range in {
		in[i] = int16(i)
	}
	cb(in)

	if len(e.out) != queueDepth {
		t.Fatalf("queue holds %d frames, want %d", len(e.out), queueDepth)
	}
	if got := e.captureDropped.Load(); got != 5 {
		t.Fatalf("captureDropped = %d, want 5", got)
	}
	for i := 0; i < queueDepth; i++ {
		got := frame.Samples(<-e.out)[0]
		if got != int16(i) {
			t.Fatalf("frame %d carries sample %d, want %d", i, got, i)
		}
	}
}

// --- Playback path ---

func TestPlaybackI16DuplicatesAndCarries(t *testing.T) {
	e := testEngine(4)
	e.in <- monoFrame(1, 2, 3, 4)
	cb := e.playbackI16(2)

	out := make([]int16, 4)
	cb(out)
	for i, want := range []int16{1, 1, 2, 2} {
		if out[i] != want {
			t.Errorf("first buffer[%d] = %d, want %d", i, out[i], want)
		}
	}

	// The rest of the frame is carried into the next callback.
	cb(out)
	for i, want := range []int16{3, 3, 4, 4} {
		if out[i] != want {
			t.Errorf("second buffer[%d] = %d, want %d", i, out[i], want)
		}
	}

	// Queue empty now: silence only, no replay of earlier samples.
	for i := range out {
		out[i] = 99
	}
	cb(out)
	for i, s := range out {
		if s != 0 {
			t.Errorf("underrun buffer[%d] = %d, want 0", i, s)
		}
	}
}

func TestPlaybackF32ConvertsHalfScale(t *testing.T) {
	// Inbound frame of 480 samples all 16384 on a 2-channel F32 device:
	// every output sample must be 0.5 on both channels.
	e := testEngine(480)
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = 16384
	}
	e.in <- frame.Bytes(samples)

	out := make([]float32, 960)
	e.playbackF32(2)(out)
	for i, v := range out {
		if v < 0.5-1e-4 || v > 0.5+1e-4 {
			t.Fatalf("out[%d] = %v, want 0.5±1e-4", i, v)
		}
	}
}

func TestPlaybackUnderrunIsSilence(t *testing.T) {
	e := testEngine(480)

	i16 := make([]int16, 96)
	for i := range i16 {
		i16[i] = 42
	}
	e.playbackI16(1)(i16)
	for i, s := range i16 {
		if s != 0 {
			t.Fatalf("i16 out[%d] = %d, want 0", i, s)
		}
	}

	f32 := make([]float32, 96)
	for i := range f32 {
		f32[i] = 0.7
	}
	e.playbackF32(2)(f32)
	for i, v := range f32 {
		if v != 0 {
			t.Fatalf("f32 out[%d] = %v, want 0", i, v)
		}
	}
}

func TestPlaybackPartialFrameThenUnderrun(t *testing.T) {
	// A frame smaller than the device buffer: the tail of the buffer is
	// zeroed once the queue runs dry.
	e := testEngine(2)
	e.in <- monoFrame(5, 6)

	out := []int16{9, 9, 9, 9, 9, 9}
	e.playbackI16(1)(out)
	for i, want := range []int16{5, 6, 0, 0, 0, 0} {
		if out[i] != want {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want)
		}
	}
}

// --- Engine lifecycle ---

func TestEngineStopReleasesStreamsAndState(t *testing.T) {
	e := testEngine(4)
	capture := &mockPAStream{}
	playback := &mockPAStream{}
	e.captureStream = capture
	e.playbackStream = playback
	e.carry = []int16{1, 2}
	e.in <- monoFrame(3, 4, 5, 6)

	e.Stop()

	if !capture.stopped || !capture.closed {
		t.Error("capture stream not stopped and closed")
	}
	if !playback.stopped || !playback.closed {
		t.Error("playback stream not stopped and closed")
	}
	if e.captureStream != nil || e.playbackStream != nil {
		t.Error("streams not cleared")
	}
	if len(e.in) != 0 {
		t.Error("stale inbound frames not drained")
	}
	if e.carry != nil {
		t.Error("carry not cleared")
	}

	// Second Stop is a no-op.
	e.Stop()
}

func TestAudioConfig(t *testing.T) {
	cfg := DefaultAudioConfig()
	if cfg.SampleRate != 48000 || cfg.Channels != 1 || cfg.FrameSize != 480 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if got := cfg.FrameBytes(); got != 960 {
		t.Fatalf("FrameBytes = %d, want 960", got)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate(defaults) = %v", err)
	}
	if err := (AudioConfig{SampleRate: 48000}).validate(); err == nil {
		t.Fatal("validate accepted zero channels and frame size")
	}
}

func TestInputChannelLadder(t *testing.T) {
	if got := inputChannelLadder(1); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("ladder(1) = %v, want [1 2]", got)
	}
	if got := inputChannelLadder(2); len(got) != 1 || got[0] != 2 {
		t.Fatalf("ladder(2) = %v, want [2]", got)
	}
}
