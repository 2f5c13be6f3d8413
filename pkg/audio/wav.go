package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const bitsPerSample = 16

// WAVInfo describes the PCM payload located inside a RIFF/WAVE container.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataSize   int // bytes of PCM data (clamped to what is present)
	Format     Format
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// 44-byte-header RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, 44+len(pcm))
	writeWAVHeader(buf[:44], len(pcm), f)
	copy(buf[44:], pcm)
	return buf
}

// WriteWAV writes pcm as a WAV file to w.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	hdr := make([]byte, 44)
	writeWAVHeader(hdr, len(pcm), f)
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

func writeWAVHeader(buf []byte, dataSize int, f Format) {
	channels := max(f.Channels, 1)
	byteRate := f.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// ParseWAV walks the RIFF chunks of wav and locates the "fmt " and "data"
// sub-chunks. The fmt chunk size may vary between encoders, so the data
// offset is never assumed to be 44. Streaming encoders often write a
// placeholder data size; DataSize is clamped to the bytes actually present.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: wav too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: wav missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: wav missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != bitsPerSample {
					return WAVInfo{}, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
				}
				info.Format.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.Format.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: wav data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: wav missing data chunk")
}

// DecodeWAV returns the PCM payload of wav and its format.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, Format{}, err
	}
	return wav[info.DataOffset : info.DataOffset+info.DataSize], info.Format, nil
}
