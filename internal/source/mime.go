package source

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media types the platform MIME table commonly lacks.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".m3u":  "audio/x-mpegurl",
	".txt":  "text/plain",
}

// MimeType guesses the content type of a file name.
func MimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return "application/octet-stream"
}

// Sidecar extensions carrying metadata for the file they are named after,
// e.g. "song.mp3.yaml" or "song.mp3.md".
var sidecarExts = []string{".yaml", ".yml", ".md"}

// IsSidecar reports whether name is a metadata sidecar of another file.
func IsSidecar(name string) bool {
	for _, ext := range sidecarExts {
		if base, ok := strings.CutSuffix(name, ext); ok && filepath.Ext(base) != "" {
			return true
		}
	}
	return false
}

// SidecarNames returns the candidate sidecar file names for name, in lookup
// order.
func SidecarNames(name string) []string {
	out := make([]string, len(sidecarExts))
	for i, ext := range sidecarExts {
		out[i] = name + ext
	}
	return out
}
