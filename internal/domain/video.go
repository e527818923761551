package domain

import (
	"path/filepath"
	"strings"
)

// videoExtensions lists container formats the player surface can handle.
// Subtitle and metadata files that ride along in releases are deliberately
// absent so they never win primary-file selection.
var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".wmv": {}, ".mov": {},
	".ts": {}, ".m2ts": {}, ".mpg": {}, ".mpeg": {}, ".webm": {}, ".flv": {},
}

// videoMimeTypes maps extensions to their streaming content types. The Go
// runtime's builtin table carries no video types, so the common ones live here.
var videoMimeTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
	".flv":  "video/x-flv",
}

// IsVideoFilename reports whether name looks like a playable video file.
func IsVideoFilename(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// VideoMimeType returns the content type for a video filename, or
// application/octet-stream when the extension is unknown.
func VideoMimeType(name string) string {
	if mt, ok := videoMimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}
