package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is an accepted upload container.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatM4A     Format = "m4a" // AAC in MP4 container
	FormatOGG     Format = "ogg"
)

// SupportedFormats lists the upload formats in display order.
func SupportedFormats() []Format {
	return []Format{FormatWAV, FormatMP3, FormatFLAC, FormatM4A, FormatOGG}
}

// Extensions returns the accepted file extensions, each with a leading dot.
func Extensions() []string {
	formats := SupportedFormats()
	exts := make([]string, 0, len(formats)+1)
	for _, f := range formats {
		exts = append(exts, "."+string(f))
	}
	return append(exts, ".mp4")
}

// ParseFormat maps a file extension or format name to a Format.
func ParseFormat(name string) Format {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "wav", "wave":
		return FormatWAV
	case "mp3":
		return FormatMP3
	case "flac":
		return FormatFLAC
	case "m4a", "mp4", "aac":
		return FormatM4A
	case "ogg", "oga", "opus":
		return FormatOGG
	default:
		return FormatUnknown
	}
}

// MIMEType returns the content type used when echoing the upload back to a browser.
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatM4A:
		return "audio/mp4"
	case FormatOGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// DetectFormat identifies the container from its leading bytes, falling back
// to the file name extension when the signature is not recognized.
func DetectFormat(data []byte, filename string) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0:
		// MPEG audio frame sync with a non-reserved layer; ADTS AAC has layer bits 00
		return FormatMP3
	}
	return ParseFormat(filepath.Ext(filename))
}
