// Package audioconv turns recorded files into the 16 kHz mono float PCM the
// transcriber expects.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

// decoder returns interleaved samples in [-1, 1] with their layout.
type decoder func(r io.ReadSeeker) (pcm []float32, channels, rate int, err error)

var byExt = map[string][]decoder{
	".wav":  {decodeWAV},
	".mp3":  {decodeMP3},
	".ogg":  {decodeVorbis, decodeOpus},
	".oga":  {decodeVorbis, decodeOpus},
	".opus": {decodeOpus},
}

var byMagic = map[string][]decoder{
	"RIFF":    {decodeWAV},
	"OggS":    {decodeVorbis, decodeOpus},
	"ID3\x03": {decodeMP3},
	"ID3\x04": {decodeMP3},
}

// DecodeFile reads path and returns mono PCM at TargetRate, cut to at most
// maxSamples when maxSamples is positive. The format is chosen by extension,
// or by magic bytes when the extension is unknown.
func DecodeFile(path string, maxSamples int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoders, ok := byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		magic := make([]byte, 4)
		if _, err := io.ReadFull(f, magic); err != nil {
			return nil, fmt.Errorf("sniff %s: %w", path, err)
		}
		if decoders, ok = byMagic[string(magic)]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
		}
	}

	var errs []error
	for _, dec := range decoders {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		pcm, channels, rate, err := dec(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		x := resampleLinear(downmix(pcm, channels), rate, TargetRate)
		if maxSamples > 0 && len(x) > maxSamples {
			x = x[:maxSamples]
		}
		return x, nil
	}

	return nil, fmt.Errorf("decode %s: %w", path, errors.Join(errs...))
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, errors.New("invalid wav")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	channels, rate := int(dec.NumChans), int(dec.SampleRate)
	if buf.Format != nil {
		channels, rate = buf.Format.NumChannels, buf.Format.SampleRate
	}

	scale := 1.0 / float64(int64(1)<<(depth-1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return out, channels, rate, nil
}

func decodeMP3(r io.ReadSeeker) ([]float32, int, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("mp3: %w", err)
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, 0, fmt.Errorf("mp3: %w", err)
	}

	samples := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, samples); err != nil {
		return nil, 0, 0, err
	}

	// go-mp3 always yields 16-bit stereo.
	return int16ToFloat(samples), 2, dec.SampleRate(), nil
}

func decodeVorbis(r io.ReadSeeker) ([]float32, int, int, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, 0, errors.New("invalid vorbis stream")
	}
	return pcm, format.Channels, format.SampleRate, nil
}

const opusRate = 48000

func decodeOpus(r io.ReadSeeker) ([]float32, int, int, error) {
	dec, err := opus.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opus: %w", err)
	}
	defer dec.Destroy()

	channels := max(dec.ChannelCount(), 1)

	var pcm []float32
	buf := make([]int16, opusRate/2*channels)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16ToFloat(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("opus: %w", err)
		}
	}

	if len(pcm) == 0 {
		return nil, 0, 0, errors.New("empty opus stream")
	}
	return pcm, channels, opusRate, nil
}

func int16ToFloat(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v) / 32768
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}

	frames := len(in) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for _, s := range in[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func resampleLinear(in []float32, from, to int) []float32 {
	if from <= 0 || from == to || len(in) == 0 {
		return in
	}

	ratio := float64(to) / float64(from)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1

	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(pos - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
