// Package downloader runs the torrent engine in-process. It satisfies the
// engine.Client view the playback coordinator consumes and adds the admin
// operations the HTTP layer needs: add, pause, resume, remove, local range
// streaming, and archive offload of finished downloads.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"streamwatch/internal/domain"
	"streamwatch/internal/engine"
	"streamwatch/internal/repository"
	"streamwatch/internal/storage"
)

// Piece priorities for a playback session: the head has to arrive before the
// player can start, and the tail usually holds the container index.
const (
	streamHeadPieces = 8
	streamTailPieces = 2
	streamReadahead  = 8 << 20
)

type Config struct {
	DataDir               string
	ListenPort            int
	DisableDHT            bool
	DisablePortForwarding bool
	Seed                  bool
	StatusInterval        time.Duration
	TrackerList           []string
	ArchiveBucket         string
	ArchivePrefix         string
	PresignTTL            time.Duration
	Logger                *logrus.Logger
}

// Engine owns the torrent client, the download registry, and one watch
// goroutine per live torrent.
type Engine struct {
	cfg      Config
	client   *torrent.Client
	registry repository.DownloadRepository
	archive  storage.Archive

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	active         map[string]*handle
	archiveObjects map[string][]storage.ObjectInfo
}

// handle tracks one live torrent. Mutable fields are guarded by Engine.mu.
type handle struct {
	torrent *torrent.Torrent
	cancel  context.CancelFunc
	done    chan struct{}

	paused           bool
	rate             int64
	archiveAttempted bool
}

// New builds an Engine. archive may be nil, in which case finished downloads
// stay on local disk and stream from there.
func New(cfg Config, registry repository.DownloadRepository, archive storage.Archive) *Engine {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	return &Engine{
		cfg:            cfg,
		registry:       registry,
		archive:        archive,
		active:         make(map[string]*handle),
		archiveObjects: make(map[string][]storage.ObjectInfo),
	}
}

// Start brings up the torrent client and re-adds every registered download
// that has not been archived yet.
func (e *Engine) Start(ctx context.Context) error {
	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = e.cfg.DataDir
	clientConfig.NoUpload = false
	clientConfig.Seed = e.cfg.Seed
	clientConfig.ListenPort = e.cfg.ListenPort
	clientConfig.NoDHT = e.cfg.DisableDHT
	clientConfig.NoDefaultPortForwarding = e.cfg.DisablePortForwarding

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create torrent client: %w", err)
	}

	e.client = client
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.cfg.Logger.Infof("download engine started, data dir: %s", e.cfg.DataDir)

	return e.reload(e.ctx)
}

func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.client != nil {
		e.client.Close()
	}
	e.cfg.Logger.Info("download engine stopped")
}

func (e *Engine) reload(ctx context.Context) error {
	downloads, err := e.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("load download registry: %w", err)
	}

	restored := 0
	for i := range downloads {
		d := &downloads[i]
		if d.ArchivedAt != nil {
			continue
		}
		t, err := e.client.AddMagnet(d.MagnetURI)
		if err != nil {
			e.cfg.Logger.WithField("download_id", d.ID).Errorf("re-add magnet: %v", err)
			continue
		}
		e.track(d, t)
		restored++
	}
	if restored > 0 {
		e.cfg.Logger.Infof("restored %d downloads from registry", restored)
	}
	return nil
}

// Add registers a magnet and starts fetching it. Adding a magnet that is
// already tracked returns the existing record.
func (e *Engine) Add(ctx context.Context, magnetURI string) (*domain.Download, error) {
	t, err := e.client.AddMagnet(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	id := t.InfoHash().HexString()

	existing, err := e.registry.Get(ctx, id)
	switch {
	case err == nil:
		e.mu.Lock()
		_, live := e.active[id]
		e.mu.Unlock()
		if !live {
			if existing.ArchivedAt != nil {
				// archived copies stream from the object store
				t.Drop()
			} else {
				e.track(existing, t)
			}
		}
		return existing, nil
	case !errors.Is(err, domain.ErrDownloadNotFound):
		return nil, err
	}

	d := &domain.Download{ID: id, MagnetURI: magnetURI}
	if err := e.registry.Create(ctx, d); err != nil {
		if isUniqueViolation(err) {
			return e.registry.Get(ctx, id)
		}
		t.Drop()
		return nil, err
	}

	e.track(d, t)
	e.cfg.Logger.WithField("download_id", id).Info("download added")
	return d, nil
}

// track registers a handle and spawns the watch goroutine. The torrent is
// already added to the client.
func (e *Engine) track(d *domain.Download, t *torrent.Torrent) {
	watchCtx, cancel := context.WithCancel(e.ctx)
	h := &handle{
		torrent: t,
		cancel:  cancel,
		done:    make(chan struct{}),
		paused:  d.Paused,
	}

	e.mu.Lock()
	e.active[d.ID] = h
	e.mu.Unlock()

	for _, tracker := range e.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}
	if d.Paused {
		t.DisallowDataDownload()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		e.watch(watchCtx, d.ID, h)
	}()
}

func (e *Engine) watch(ctx context.Context, id string, h *handle) {
	logger := e.cfg.Logger.WithField("download_id", id)
	t := h.torrent

	select {
	case <-ctx.Done():
		return
	case <-t.GotInfo():
	}

	name := t.Info().BestName()
	if err := e.registry.SetName(ctx, id, name); err != nil {
		logger.Warnf("persist name: %v", err)
	}
	t.DownloadAll()
	logger.Infof("metadata resolved: %s (%s)", name, formatBytes(t.Length()))

	lastBytes := t.BytesCompleted()
	lastTime := time.Now()

	ticker := time.NewTicker(e.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bytes := t.BytesCompleted()
			elapsed := time.Since(lastTime).Seconds()
			var rate int64
			if elapsed > 0 {
				rate = int64(float64(bytes-lastBytes) / elapsed)
			}
			lastBytes = bytes
			lastTime = time.Now()

			e.mu.Lock()
			h.rate = rate
			e.mu.Unlock()

			if t.BytesMissing() == 0 {
				if e.finishDownload(ctx, id, h, logger) {
					return
				}
			}
		}
	}
}

// finishDownload archives a completed download when a store is configured.
// Returns true when the torrent was dropped and the watch loop should exit.
// Failed uploads are retried once per process run: the next restart re-adds
// the torrent, which completes immediately and lands back here.
func (e *Engine) finishDownload(ctx context.Context, id string, h *handle, logger *logrus.Entry) bool {
	e.mu.Lock()
	h.rate = 0
	attempted := h.archiveAttempted
	h.archiveAttempted = true
	e.mu.Unlock()

	if attempted {
		return false
	}
	logger.Info("download completed")
	if e.archive == nil || e.cfg.ArchiveBucket == "" {
		return false
	}

	d, err := e.registry.Get(ctx, id)
	if err != nil {
		logger.Errorf("load registry record for archive: %v", err)
		return false
	}
	if d.ArchivedAt != nil {
		return false
	}

	name := h.torrent.Info().BestName()
	localPath := filepath.Join(e.cfg.DataDir, name)

	opts := storage.UploadOptions{
		Bucket:    e.cfg.ArchiveBucket,
		KeyPrefix: archiveKeyPrefix(e.cfg.ArchivePrefix, id),
	}
	progressLogger := newUploadProgressLogger(logger)
	opts.ProgressCallback = func(done, total int64) {
		progressLogger(done, total)
	}

	logger.Infof("archive upload started from %s", localPath)
	location, err := e.archive.Upload(ctx, localPath, opts)
	if err != nil {
		logger.Errorf("archive upload: %v", err)
		return false
	}
	if err := e.registry.MarkArchived(ctx, id, location, time.Now().UTC()); err != nil {
		logger.Errorf("mark archived: %v", err)
		return false
	}
	logger.Infof("archived to %s", location)

	if e.cfg.Seed {
		return false
	}

	h.torrent.Drop()
	if err := os.RemoveAll(localPath); err != nil {
		logger.Warnf("cleanup local data: %v", err)
	}
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
	return true
}

// Status implements engine.Client.
func (e *Engine) Status(ctx context.Context, id string) (*domain.DownloadStatus, error) {
	e.mu.Lock()
	h, live := e.active[id]
	var rate int64
	var paused bool
	if live {
		rate = h.rate
		paused = h.paused
	}
	e.mu.Unlock()

	if !live {
		d, err := e.registry.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.ArchivedAt != nil {
			return &domain.DownloadStatus{ID: id, State: domain.DownloadStateFinished, Progress: 100}, nil
		}
		return &domain.DownloadStatus{
			ID:           id,
			State:        domain.DownloadStateStopped,
			ErrorMessage: "not loaded in engine",
		}, nil
	}

	t := h.torrent
	status := &domain.DownloadStatus{
		ID:           id,
		DownloadRate: rate,
		NumPeers:     t.Stats().ActivePeers,
	}
	if t.Info() == nil {
		status.State = domain.DownloadStateMetadata
		return status, nil
	}

	status.Progress = progressPercent(t.BytesCompleted(), t.Length())
	switch {
	case t.BytesMissing() == 0:
		status.Progress = 100
		if e.cfg.Seed {
			status.State = domain.DownloadStateSeeding
		} else {
			status.State = domain.DownloadStateFinished
		}
	case paused:
		status.State = domain.DownloadStatePaused
	default:
		status.State = domain.DownloadStateActive
		if rate > 0 {
			eta := t.BytesMissing() / rate
			status.ETASeconds = &eta
		}
	}
	return status, nil
}

// StreamingInfo implements engine.Client.
func (e *Engine) StreamingInfo(ctx context.Context, id string) (*domain.StreamingInfo, error) {
	e.mu.Lock()
	h, live := e.active[id]
	e.mu.Unlock()

	if live {
		t := h.torrent
		if t.Info() == nil {
			return nil, domain.ErrStreamingNotReady
		}
		f := pickVideoFile(t.Files(), "")
		if f == nil {
			return nil, domain.ErrStreamingNotReady
		}
		status, err := e.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		return &domain.StreamingInfo{
			State:    status.State,
			Progress: status.Progress,
			VideoFile: &domain.VideoFile{
				Name:       f.DisplayPath(),
				Size:       f.Length(),
				Downloaded: f.BytesCompleted(),
				Progress:   progressPercent(f.BytesCompleted(), f.Length()),
				MimeType:   domain.VideoMimeType(f.DisplayPath()),
			},
		}, nil
	}

	d, err := e.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.ArchivedAt == nil {
		return nil, domain.ErrStreamingNotReady
	}
	obj, err := e.archivedVideo(ctx, d, "")
	if err != nil {
		return nil, err
	}
	return &domain.StreamingInfo{
		State:    domain.DownloadStateFinished,
		Progress: 100,
		VideoFile: &domain.VideoFile{
			Name:       path.Base(obj.Key),
			Size:       obj.Size,
			Downloaded: obj.Size,
			Progress:   100,
			MimeType:   domain.VideoMimeType(obj.Key),
		},
	}, nil
}

// StreamURL implements engine.Client. The embedded engine serves its own API,
// so the URL is relative to it.
func (e *Engine) StreamURL(id, quality string) string {
	u := "/api/stream/" + id
	if quality != "" {
		u += "?quality=" + url.QueryEscape(quality)
	}
	return u
}

// PrioritizeStreaming implements engine.Client. It demotes everything except
// the stream target and pulls the target's head and tail pieces first.
func (e *Engine) PrioritizeStreaming(ctx context.Context, id string) error {
	e.mu.Lock()
	h, live := e.active[id]
	e.mu.Unlock()

	if !live {
		d, err := e.registry.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.ArchivedAt != nil {
			// archived downloads stream from the object store as they are
			return nil
		}
		return domain.ErrStreamingNotReady
	}

	t := h.torrent
	if t.Info() == nil {
		return domain.ErrStreamingNotReady
	}
	target := pickVideoFile(t.Files(), "")
	if target == nil {
		return domain.ErrStreamingNotReady
	}

	for _, f := range t.Files() {
		if f == target {
			continue
		}
		f.SetPriority(torrent.PiecePriorityNone)
	}
	target.SetPriority(torrent.PiecePriorityHigh)

	begin, end := target.BeginPieceIndex(), target.EndPieceIndex()
	head := begin + streamHeadPieces
	if head > end {
		head = end
	}
	for i := begin; i < head; i++ {
		t.Piece(i).SetPriority(torrent.PiecePriorityNow)
	}
	tail := end - streamTailPieces
	if tail < head {
		tail = head
	}
	for i := tail; i < end; i++ {
		t.Piece(i).SetPriority(torrent.PiecePriorityNow)
	}

	e.cfg.Logger.WithField("download_id", id).Infof("streaming prioritized: %s", target.DisplayPath())
	return nil
}

// VideoStream is an open handle on the primary video file of a live download,
// ready for range serving.
type VideoStream struct {
	Name     string
	Size     int64
	MimeType string
	Reader   io.ReadSeekCloser
}

// OpenVideo opens the stream target of a live download for reading. The
// reader blocks until the requested bytes arrive, so serving it doubles as
// on-demand piece scheduling.
func (e *Engine) OpenVideo(ctx context.Context, id, quality string) (*VideoStream, error) {
	e.mu.Lock()
	h, live := e.active[id]
	e.mu.Unlock()

	if !live {
		if _, err := e.registry.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrStreamingNotReady
	}

	t := h.torrent
	if t.Info() == nil {
		return nil, domain.ErrStreamingNotReady
	}
	f := pickVideoFile(t.Files(), quality)
	if f == nil {
		return nil, domain.ErrStreamingNotReady
	}

	reader := f.NewReader()
	reader.SetResponsive()
	reader.SetReadahead(streamReadahead)

	return &VideoStream{
		Name:     f.DisplayPath(),
		Size:     f.Length(),
		MimeType: domain.VideoMimeType(f.DisplayPath()),
		Reader:   reader,
	}, nil
}

// ArchiveStreamURL returns a presigned URL for the archived copy of a
// download, or "" when the download still has a live torrent to stream from.
func (e *Engine) ArchiveStreamURL(ctx context.Context, id, quality string) (string, error) {
	e.mu.Lock()
	_, live := e.active[id]
	e.mu.Unlock()
	if live {
		return "", nil
	}

	d, err := e.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d.ArchivedAt == nil || e.archive == nil {
		return "", nil
	}

	obj, err := e.archivedVideo(ctx, d, quality)
	if err != nil {
		return "", err
	}
	bucket, _, err := storage.ParseLocation(d.ArchiveLocation)
	if err != nil {
		return "", err
	}
	return e.archive.PresignGet(ctx, bucket, obj.Key, e.cfg.PresignTTL)
}

// archivedVideo resolves the stream target inside an archive. Object listings
// are cached per download; archives are immutable until deleted.
func (e *Engine) archivedVideo(ctx context.Context, d *domain.Download, quality string) (*storage.ObjectInfo, error) {
	e.mu.Lock()
	objects, cached := e.archiveObjects[d.ID]
	e.mu.Unlock()

	if !cached {
		if e.archive == nil {
			return nil, fmt.Errorf("archive store not configured")
		}
		bucket, prefix, err := storage.ParseLocation(d.ArchiveLocation)
		if err != nil {
			return nil, err
		}
		objects, err = e.archive.ListObjects(ctx, bucket, prefix)
		if err != nil {
			return nil, fmt.Errorf("list archive objects: %w", err)
		}
		e.mu.Lock()
		e.archiveObjects[d.ID] = objects
		e.mu.Unlock()
	}

	obj := pickVideoObject(objects, quality)
	if obj == nil {
		return nil, fmt.Errorf("archive %s holds no video file", d.ID)
	}
	return obj, nil
}

// Get returns the registry record for a download.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Download, error) {
	return e.registry.Get(ctx, id)
}

// List returns every registered download, newest first.
func (e *Engine) List(ctx context.Context) ([]domain.Download, error) {
	return e.registry.List(ctx)
}

// Pause stops data transfer for a download but keeps it registered. Metadata
// exchange still proceeds, so a paused magnet can resolve its name.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.setPaused(ctx, id, true)
}

// Resume restarts data transfer for a paused download.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.setPaused(ctx, id, false)
}

func (e *Engine) setPaused(ctx context.Context, id string, paused bool) error {
	if _, err := e.registry.Get(ctx, id); err != nil {
		return err
	}
	if err := e.registry.SetPaused(ctx, id, paused); err != nil {
		return err
	}

	e.mu.Lock()
	h, live := e.active[id]
	if live {
		h.paused = paused
	}
	e.mu.Unlock()

	if live {
		if paused {
			h.torrent.DisallowDataDownload()
		} else {
			h.torrent.AllowDataDownload()
		}
	}
	return nil
}

// Remove drops the torrent, deletes local data, and forgets the registry
// record. deleteArchive also removes the archived copy from the object store.
func (e *Engine) Remove(ctx context.Context, id string, deleteArchive bool) error {
	d, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	h, live := e.active[id]
	delete(e.active, id)
	delete(e.archiveObjects, id)
	e.mu.Unlock()

	if live {
		h.cancel()
		h.torrent.Drop()
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if d.Name != "" {
		if err := os.RemoveAll(filepath.Join(e.cfg.DataDir, d.Name)); err != nil {
			e.cfg.Logger.WithField("download_id", id).Warnf("remove local data: %v", err)
		}
	}

	if deleteArchive && d.ArchiveLocation != "" && e.archive != nil {
		bucket, prefix, err := storage.ParseLocation(d.ArchiveLocation)
		if err != nil {
			return err
		}
		if err := e.archive.DeletePrefix(ctx, bucket, prefix); err != nil {
			return fmt.Errorf("delete archive: %w", err)
		}
	}

	if err := e.registry.Delete(ctx, id); err != nil {
		return err
	}
	e.cfg.Logger.WithField("download_id", id).Info("download removed")
	return nil
}

func archiveKeyPrefix(root, id string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return id
	}
	return root + "/" + id
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total == 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("archive progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("archive progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ engine.Client = (*Engine)(nil)
