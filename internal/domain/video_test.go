package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVideoFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Movie.2024.1080p.mkv", true},
		{"episode.MP4", true},
		{"clip.webm", true},
		{"subtitles.srt", false},
		{"release.nfo", false},
		{"sample.txt", false},
		{"noextension", false},
		{"archive.mkv.part", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVideoFilename(tt.name))
		})
	}
}

func TestVideoMimeType(t *testing.T) {
	assert.Equal(t, "video/x-matroska", VideoMimeType("Movie.mkv"))
	assert.Equal(t, "video/mp4", VideoMimeType("clip.MP4"))
	assert.Equal(t, "video/mp4", VideoMimeType("clip.m4v"))
	assert.Equal(t, "application/octet-stream", VideoMimeType("unknown.bin"))
}
