package groq

import (
	"fmt"
	"path/filepath"
	"strings"
)

// supportedMIMETypes is the set of audio formats the transcription
// endpoint accepts.
var supportedMIMETypes = map[string]bool{
	"audio/mpeg": true,
	"audio/mp3":  true,
	"audio/mp4":  true, // mp4, m4a
	"audio/ogg":  true,
	"audio/wav":  true,
	"audio/webm": true,
	"audio/flac": true,
}

// supportedExtensions lists filename extensions accepted for detection,
// independent of content validation.
var supportedExtensions = []string{
	".flac", ".mp3", ".mp4", ".mpeg", ".mpga", ".m4a", ".ogg", ".wav", ".webm",
}

// extToMIME infers a MIME type from a filename extension.
var extToMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".flac": "audio/flac",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
}

// mimeToExt picks a canonical extension per MIME type. audio/mpeg maps
// to .mp3 and audio/mp4 to .m4a, the common audio-only containers.
var mimeToExt = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/mp3":  ".mp3",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
	"audio/webm": ".webm",
	"audio/flac": ".flac",
}

// IsSupportedMIMEType reports whether the transcription endpoint accepts
// the given MIME type.
func IsSupportedMIMEType(mimeType string) bool {
	return supportedMIMETypes[strings.ToLower(strings.TrimSpace(mimeType))]
}

// IsSupportedFilename reports whether a filename's extension matches the
// accepted audio extension list.
func IsSupportedFilename(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range supportedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// MIMEFromExtension infers a MIME type from a filename. It returns ""
// when the extension is unknown.
func MIMEFromExtension(filename string) string {
	return extToMIME[strings.ToLower(filepath.Ext(filename))]
}

// ResolveMIMEType applies the MIME determination policy: the fetched
// Content-Type wins, then the type recorded at detection time, then
// inference from the filename extension. The result must be in the
// supported set or resolution fails.
func ResolveMIMEType(fetchedContentType, recordedMIME, filename string) (string, error) {
	candidates := []string{
		normalizeMIME(fetchedContentType),
		normalizeMIME(recordedMIME),
		MIMEFromExtension(filename),
	}
	var resolved string
	for _, c := range candidates {
		if c != "" {
			resolved = c
			break
		}
	}
	if resolved == "" || !supportedMIMETypes[resolved] {
		return "", fmt.Errorf("could not determine a supported audio MIME type (detected %q, filename %q)", resolved, filename)
	}
	return resolved, nil
}

// normalizeMIME lowercases a Content-Type value and strips parameters
// such as "; charset=...".
func normalizeMIME(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// UploadFilename derives the multipart filename for a resolved MIME
// type. The original filename is deliberately not used: a generic name
// with the canonical extension guarantees the API can sniff the format.
func UploadFilename(mimeType string) string {
	if ext, ok := mimeToExt[normalizeMIME(mimeType)]; ok {
		return "upload" + ext
	}
	return "upload.bin"
}
