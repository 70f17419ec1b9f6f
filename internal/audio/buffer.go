package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// ErrEmptyAudio is returned when a decoder produces no samples.
var ErrEmptyAudio = errors.New("audio: empty payload")

// Buffer holds decoded mono audio as normalized float samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback time of the buffer at speed 1.0.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// DecodePCM16 converts raw little-endian signed 16-bit mono PCM into a
// Buffer. An odd trailing byte is dropped.
func DecodePCM16(data []byte, sampleRate int) (*Buffer, error) {
	if len(data) < 2 {
		return nil, ErrEmptyAudio
	}
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		samples[i] = float32(s) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// DecodeMP3 decodes an MP3 stream into a mono Buffer at the stream's native
// sample rate. The decoder always yields 16-bit stereo; the channels are
// averaged.
func DecodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	// 4 bytes per frame: left and right int16.
	frames := len(pcm) / 4
	if frames == 0 {
		return nil, ErrEmptyAudio
	}
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[4*i]) | uint16(pcm[4*i+1])<<8)
		r := int16(uint16(pcm[4*i+2]) | uint16(pcm[4*i+3])<<8)
		samples[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return &Buffer{Samples: samples, SampleRate: dec.SampleRate()}, nil
}
