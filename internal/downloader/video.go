package downloader

import (
	"strings"

	"github.com/anacrolix/torrent"

	"streamwatch/internal/domain"
	"streamwatch/internal/storage"
)

// streamCandidate is the name/size view shared by torrent files and archived
// objects when choosing what to stream.
type streamCandidate struct {
	name string
	size int64
}

// pickStreamTarget chooses the primary video among candidates: files whose
// names mention the requested quality (e.g. "1080p") win over ones that do
// not, size breaks ties. Returns -1 when nothing classifies as video.
func pickStreamTarget(candidates []streamCandidate, quality string) int {
	quality = strings.ToLower(strings.TrimSpace(quality))

	best := -1
	bestMatches := false
	for i, c := range candidates {
		if !domain.IsVideoFilename(c.name) {
			continue
		}
		matches := quality != "" && strings.Contains(strings.ToLower(c.name), quality)
		switch {
		case best == -1:
		case matches && !bestMatches:
		case matches == bestMatches && c.size > candidates[best].size:
		default:
			continue
		}
		best = i
		bestMatches = matches
	}
	return best
}

func pickVideoFile(files []*torrent.File, quality string) *torrent.File {
	candidates := make([]streamCandidate, len(files))
	for i, f := range files {
		candidates[i] = streamCandidate{name: f.DisplayPath(), size: f.Length()}
	}
	if i := pickStreamTarget(candidates, quality); i >= 0 {
		return files[i]
	}
	return nil
}

func pickVideoObject(objects []storage.ObjectInfo, quality string) *storage.ObjectInfo {
	candidates := make([]streamCandidate, len(objects))
	for i, obj := range objects {
		candidates[i] = streamCandidate{name: obj.Key, size: obj.Size}
	}
	if i := pickStreamTarget(candidates, quality); i >= 0 {
		return &objects[i]
	}
	return nil
}

func progressPercent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
