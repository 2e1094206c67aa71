// Package wavtap records outbound S16LE frames to a WAV file for offline
// inspection. The tap is fed from the session loop, never from an audio
// callback, so file I/O latency cannot stall the realtime paths.
package wavtap

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Tap appends PCM frames to a WAV file until closed.
type Tap struct {
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer
}

// Create opens path for writing and prepares a 16-bit PCM WAV encoder
// matching the wire format.
func Create(path string, sampleRate, channels int) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create tap file: %w", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	return &Tap{
		f:   f,
		enc: enc,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WriteFrame appends one S16LE frame. A trailing odd byte is ignored.
func (t *Tap) WriteFrame(frame []byte) error {
	n := len(frame) / 2
	if cap(t.buf.Data) < n {
		t.buf.Data = make([]int, n)
	}
	t.buf.Data = t.buf.Data[:n]
	for i := 0; i < n; i++ {
		t.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(frame[i*2:])))
	}
	return t.enc.Write(t.buf)
}

// Close finalizes the WAV header and closes the file.
func (t *Tap) Close() error {
	if err := t.enc.Close(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}
