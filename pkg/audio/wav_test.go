package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxloop/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{-5, 7, 1000})
	format := audio.Format{SampleRate: 22050, Channels: 1}

	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, pcm, format); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	got, gotFormat, err := audio.DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFormat != format {
		t.Errorf("format = %+v, want %+v", gotFormat, format)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestParseWAV_ExtraChunkBeforeData(t *testing.T) {
	pcm := samplesToBytes([]int16{42})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 8000, Channels: 1})

	// Splice an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	info, err := audio.ParseWAV(spliced)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44+len(list) {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, 44+len(list))
	}
	if info.DataSize != 2 {
		t.Errorf("DataSize = %d, want 2", info.DataSize)
	}
}

func TestParseWAV_ClampsPlaceholderSize(t *testing.T) {
	wav := audio.EncodeWAV(samplesToBytes([]int16{1, 2}), audio.Format{SampleRate: 8000, Channels: 1})
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataSize != 4 {
		t.Errorf("DataSize = %d, want 4", info.DataSize)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("RIFF")},
		{"no riff", append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 32)...)},
		{"no wave", append([]byte("RIFF\x00\x00\x00\x00WAVX"), make([]byte, 32)...)},
		{"no data", []byte("RIFF\x00\x00\x00\x00WAVE")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := audio.ParseWAV(tc.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
