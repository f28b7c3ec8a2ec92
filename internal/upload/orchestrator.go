// Package upload stages customer files, counts their pages in the
// background and pushes them through the upload-then-register pipeline
// that makes them eligible for checkout.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/events"
	"github.com/example/printkiosk/internal/models"
	"github.com/example/printkiosk/internal/pagecount"
	"github.com/example/printkiosk/internal/storage"
	"github.com/example/printkiosk/internal/worker"
)

// ErrNotFound is returned for operations on an unknown file id
var ErrNotFound = errors.New("staged file not found")

// Config wires the orchestrator's collaborators
type Config struct {
	StagingDir string
	Provider   storage.Provider
	API        *backend.API
	Pool       *worker.Pool
	Bus        *events.Bus
	// Concurrency bounds parallel uploads in a batch; 0 means unbounded
	Concurrency int
	// MaxFileSize rejects oversized files at staging; 0 means no limit
	MaxFileSize int64
}

// FileError names one file that failed during a batch
type FileError struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// BatchResult summarizes one settled upload batch
type BatchResult struct {
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Failed    []FileError `json:"failed,omitempty"`
}

// Complete reports whether every file in the batch reached completed
func (b BatchResult) Complete() bool {
	return len(b.Failed) == 0
}

// Orchestrator owns the staged-file set for one kiosk session
type Orchestrator struct {
	cfg Config

	mu       sync.RWMutex
	files    map[string]*models.StagedFile
	order    []string
	progress map[string]int
}

// New creates an orchestrator and its staging directory
func New(cfg Config) (*Orchestrator, error) {
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "printkiosk-staging")
	}
	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Orchestrator{
		cfg:      cfg,
		files:    make(map[string]*models.StagedFile),
		progress: make(map[string]int),
	}, nil
}

// Stage copies the file into the staging directory and kicks off page
// counting in the background. The returned snapshot has status
// processing; it flips to ready once the count lands.
func (o *Orchestrator) Stage(name, contentType string, content io.Reader, size int64) (models.StagedFile, error) {
	if o.cfg.MaxFileSize > 0 && size > o.cfg.MaxFileSize {
		return models.StagedFile{}, fmt.Errorf("file %q exceeds the %d byte limit", name, o.cfg.MaxFileSize)
	}

	id := uuid.NewString()
	path := filepath.Join(o.cfg.StagingDir, id+strings.ToLower(filepath.Ext(name)))

	dst, err := os.Create(path)
	if err != nil {
		return models.StagedFile{}, fmt.Errorf("failed to create staging file: %w", err)
	}
	written, err := io.Copy(dst, content)
	dst.Close()
	if err != nil {
		os.Remove(path)
		return models.StagedFile{}, fmt.Errorf("failed to stage %q: %w", name, err)
	}

	staged := &models.StagedFile{
		ID:          id,
		Name:        name,
		Size:        written,
		ContentType: contentType,
		Path:        path,
		Options:     models.DefaultPrintOptions(),
		Status:      models.StatusProcessing,
		StagedAt:    time.Now(),
	}

	o.mu.Lock()
	o.files[id] = staged
	o.order = append(o.order, id)
	// Snapshot before the counter goroutine starts mutating the entry
	snapshot := *staged
	o.mu.Unlock()

	o.countPages(staged)
	return snapshot, nil
}

// countPages resolves the page count off the request path. A full
// queue degrades to counting inline in a goroutine.
func (o *Orchestrator) countPages(f *models.StagedFile) {
	run := func() (pagecount.Result, error) {
		return pagecount.Count(f.Path, f.Name, f.Size), nil
	}

	task := worker.NewTask(f.ID, run)
	if err := o.cfg.Pool.Submit(task); err != nil {
		log.Printf("Worker pool rejected page count for %s, counting inline: %v", f.ID, err)
		go func() {
			res, _ := run()
			o.applyPageCount(f.ID, res)
		}()
		return
	}
	go func() {
		select {
		case res := <-task.Result:
			o.applyPageCount(f.ID, res)
		case err := <-task.Error:
			o.setError(f.ID, fmt.Sprintf("page counting failed: %v", err))
		}
	}()
}

func (o *Orchestrator) applyPageCount(id string, res pagecount.Result) {
	o.mu.Lock()
	f, ok := o.files[id]
	if ok {
		f.Pages = res.Pages
		f.PageMethod = res.Method
		if len(res.Metadata) > 0 {
			f.Metadata = res.Metadata
		}
		f.Status = models.StatusReady
	}
	o.mu.Unlock()
	if ok {
		o.publishProgress(id, 0)
	}
}

// File returns a snapshot of one staged file
func (o *Orchestrator) File(id string) (models.StagedFile, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, ok := o.files[id]
	if !ok {
		return models.StagedFile{}, false
	}
	return *f, true
}

// Files returns snapshots of all staged files in staging order
func (o *Orchestrator) Files() []models.StagedFile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.StagedFile, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.files[id])
	}
	return out
}

// SetOptions replaces a file's print options, expanding and validating
// any page selection against the counted total.
func (o *Orchestrator) SetOptions(id string, opts models.PrintOptions) (models.StagedFile, error) {
	if opts.Copies < 1 {
		opts.Copies = 1
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[id]
	if !ok {
		return models.StagedFile{}, ErrNotFound
	}

	switch opts.PageSelection {
	case models.SelectAll, "":
		opts.PageSelection = models.SelectAll
		opts.PageRange = ""
		opts.SelectedPages = nil
	case models.SelectRange:
		if f.Pages < 1 {
			return models.StagedFile{}, fmt.Errorf("page count for %q is still pending", f.Name)
		}
		pages, err := ParsePageRange(opts.PageRange, f.Pages)
		if err != nil {
			return models.StagedFile{}, err
		}
		opts.SelectedPages = pages
	case models.SelectSpecific:
		if f.Pages < 1 {
			return models.StagedFile{}, fmt.Errorf("page count for %q is still pending", f.Name)
		}
		pages, err := normalizePages(opts.SelectedPages, f.Pages)
		if err != nil {
			return models.StagedFile{}, err
		}
		opts.SelectedPages = pages
	default:
		return models.StagedFile{}, fmt.Errorf("unknown page selection %q", opts.PageSelection)
	}

	f.Options = opts
	return *f, nil
}

func normalizePages(pages []int, total int) ([]int, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}
	seen := make(map[int]bool)
	for _, p := range pages {
		if p < 1 || p > total {
			return nil, fmt.Errorf("page %d is outside pages 1-%d", p, total)
		}
		seen[p] = true
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

// Remove drops a staged file and its local copy
func (o *Orchestrator) Remove(id string) error {
	o.mu.Lock()
	f, ok := o.files[id]
	if !ok {
		o.mu.Unlock()
		return ErrNotFound
	}
	if f.Status == models.StatusUploading || f.Status == models.StatusRegistering {
		o.mu.Unlock()
		return fmt.Errorf("file %q has an upload in flight", f.Name)
	}
	delete(o.files, id)
	delete(o.progress, id)
	for i, fid := range o.order {
		if fid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	path := f.Path
	o.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove staged copy %s: %v", path, err)
	}
	return nil
}

// UploadAll pushes every staged file through the pipeline. The batch
// always settles: one file failing never cancels its siblings. The
// caller inspects the result to decide between advancing and retrying.
func (o *Orchestrator) UploadAll(ctx context.Context, sess models.Session) (BatchResult, error) {
	snapshot := o.Files()
	if len(snapshot) == 0 {
		return BatchResult{}, fmt.Errorf("no files staged")
	}
	for _, f := range snapshot {
		if f.Status == models.StatusProcessing {
			return BatchResult{}, fmt.Errorf("file %q is still processing", f.Name)
		}
	}

	// Progress and errors from the previous attempt do not carry over
	o.mu.Lock()
	for _, f := range snapshot {
		if f.Status == models.StatusCompleted {
			continue
		}
		cur, ok := o.files[f.ID]
		if !ok {
			continue
		}
		o.progress[f.ID] = 0
		cur.Error = ""
		if cur.PublicURL != "" {
			cur.Status = models.StatusUploaded
		} else {
			cur.Status = models.StatusReady
		}
	}
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.Concurrency > 0 {
		g.SetLimit(o.cfg.Concurrency)
	}

	var mu sync.Mutex
	result := BatchResult{Total: len(snapshot)}
	for _, f := range snapshot {
		if f.Status == models.StatusCompleted {
			result.Completed++
			continue
		}
		id, name := f.ID, f.Name
		g.Go(func() error {
			err := o.uploadOne(gctx, id, sess)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, FileError{FileID: id, FileName: name, Error: err.Error()})
			} else {
				result.Completed++
			}
			return nil
		})
	}
	g.Wait()

	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(events.TopicBatchSettled, result)
	}
	return result, nil
}

// Retry re-runs the pipeline for one failed file. Stages that already
// succeeded are kept: a file with a public URL goes straight to
// registration.
func (o *Orchestrator) Retry(ctx context.Context, id string, sess models.Session) error {
	o.mu.Lock()
	f, ok := o.files[id]
	if !ok {
		o.mu.Unlock()
		return ErrNotFound
	}
	if f.Status != models.StatusError {
		status := f.Status
		o.mu.Unlock()
		return fmt.Errorf("file is %s, only failed files can be retried", status)
	}
	f.Error = ""
	o.progress[id] = 0
	o.mu.Unlock()

	return o.uploadOne(ctx, id, sess)
}

// Registered partitions the staged set into backend file ids and the
// names still pending registration.
func (o *Orchestrator) Registered() (ids []string, missing []string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, id := range o.order {
		f := o.files[id]
		if f.BackendFileID != "" {
			ids = append(ids, f.BackendFileID)
		} else {
			missing = append(missing, f.Name)
		}
	}
	return ids, missing
}

// Progress returns the per-file transfer state of the current attempt
func (o *Orchestrator) Progress() []models.UploadProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.UploadProgress, 0, len(o.order))
	for _, id := range o.order {
		f := o.files[id]
		out = append(out, models.UploadProgress{
			FileID:   id,
			FileName: f.Name,
			Progress: o.progress[id],
			Status:   string(f.Status),
			Error:    f.Error,
		})
	}
	return out
}

// uploadOne runs the two pipeline stages for a single file. Upload
// progress spans 0-90, registration closes out at 100.
func (o *Orchestrator) uploadOne(ctx context.Context, id string, sess models.Session) error {
	o.mu.RLock()
	f, ok := o.files[id]
	if !ok {
		o.mu.RUnlock()
		return ErrNotFound
	}
	snapshot := *f
	o.mu.RUnlock()

	if snapshot.PublicURL == "" {
		o.setStatus(id, models.StatusUploading)
		o.publishProgress(id, 0)

		src, err := os.Open(snapshot.Path)
		if err != nil {
			o.setError(id, fmt.Sprintf("staged copy unreadable: %v", err))
			return fmt.Errorf("failed to open staged copy: %w", err)
		}
		res, err := o.cfg.Provider.Upload(ctx, snapshot.Name, snapshot.ContentType, src, snapshot.Size, func(transferred, total int64) {
			if total > 0 {
				o.publishProgress(id, int(transferred*90/total))
			}
		})
		src.Close()
		if err != nil {
			o.setError(id, fmt.Sprintf("upload failed: %v", err))
			return err
		}

		o.mu.Lock()
		if f, ok := o.files[id]; ok {
			f.PublicURL = res.PublicURL
			f.StorageKey = res.Key
			f.Status = models.StatusUploaded
		}
		o.mu.Unlock()
		snapshot.PublicURL = res.PublicURL
	}

	o.setStatus(id, models.StatusRegistering)
	o.publishProgress(id, 90)

	backendID, err := o.cfg.API.RegisterFile(ctx, backend.FileRegistration{
		FileURL:       snapshot.PublicURL,
		SessionID:     sess.SessionID,
		CustomerUUID:  sess.CustomerUUID,
		Copies:        snapshot.Options.Copies,
		PaperSize:     snapshot.Options.PaperSize,
		ColorMode:     snapshot.Options.ColorMode,
		PaperType:     snapshot.Options.PaperType,
		Duplex:        snapshot.Options.Duplex,
		TotalPages:    snapshot.Pages,
		PageSelection: snapshot.Options.PageSelection,
		PageRange:     snapshot.Options.PageRange,
		SelectedPages: snapshot.Options.SelectedPages,
	})
	if err != nil {
		o.setError(id, fmt.Sprintf("registration failed: %v", err))
		return err
	}

	o.mu.Lock()
	if f, ok := o.files[id]; ok {
		f.BackendFileID = backendID
		f.Status = models.StatusCompleted
	}
	o.mu.Unlock()
	o.publishProgress(id, 100)
	return nil
}

func (o *Orchestrator) setStatus(id string, status models.FileStatus) {
	o.mu.Lock()
	if f, ok := o.files[id]; ok {
		f.Status = status
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setError(id, msg string) {
	o.mu.Lock()
	if f, ok := o.files[id]; ok {
		f.Status = models.StatusError
		f.Error = msg
	}
	o.mu.Unlock()
	o.publishProgress(id, -1)
}

// publishProgress records pct (negative keeps the previous value) and
// mirrors the file's transfer state onto the event bus.
func (o *Orchestrator) publishProgress(id string, pct int) {
	o.mu.Lock()
	f, ok := o.files[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	if pct >= 0 {
		o.progress[id] = pct
	}
	update := models.UploadProgress{
		FileID:   id,
		FileName: f.Name,
		Progress: o.progress[id],
		Status:   string(f.Status),
		Error:    f.Error,
	}
	o.mu.Unlock()

	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(events.TopicUploadProgress, update)
	}
}
