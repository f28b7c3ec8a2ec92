package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/events"
	"github.com/example/printkiosk/internal/kvstore"
	"github.com/example/printkiosk/internal/models"
	"github.com/example/printkiosk/internal/storage"
	"github.com/example/printkiosk/internal/worker"
)

// fakeProvider records uploads and returns a URL derived from the name
type fakeProvider struct {
	uploads int32
	fail    bool
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }

func (p *fakeProvider) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress storage.ProgressFunc) (*storage.UploadResult, error) {
	atomic.AddInt32(&p.uploads, 1)
	if p.fail {
		return nil, errors.New("storage down")
	}
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(size, size)
	}
	return &storage.UploadResult{PublicURL: "https://cdn.test/" + name, Key: "k-" + name}, nil
}

func testSession() models.Session {
	return models.Session{SessionID: "s-1", CustomerUUID: "c-1", CreatedAt: time.Now()}
}

// registerServer registers any file whose URL does not contain "bad"
func registerServer(t *testing.T, attempts *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts != nil {
			atomic.AddInt32(attempts, 1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse registration form: %v", err)
		}
		url := r.FormValue("fileUrl")
		if strings.Contains(url, "bad") {
			http.Error(w, `{"error":"rejected by backend"}`, http.StatusUnprocessableEntity)
			return
		}
		fmt.Fprintf(w, `{"fileId":"bf-%s"}`, r.FormValue("totalPages"))
	}))
}

func newOrchestrator(t *testing.T, provider storage.Provider, backendURL string) *Orchestrator {
	return newOrchestratorN(t, provider, backendURL, 2)
}

func newOrchestratorN(t *testing.T, provider storage.Provider, backendURL string, concurrency int) *Orchestrator {
	t.Helper()
	store, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	client, err := backend.New([]string{backendURL}, store)
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	pool := worker.NewPool(2, 16)
	t.Cleanup(pool.Stop)

	o, err := New(Config{
		StagingDir:  t.TempDir(),
		Provider:    provider,
		API:         backend.NewAPI(client),
		Pool:        pool,
		Bus:         events.NewBus(),
		Concurrency: concurrency,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func stageAndWait(t *testing.T, o *Orchestrator, name, content string) models.StagedFile {
	t.Helper()
	f, err := o.Stage(name, "application/octet-stream", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Stage(%q) failed: %v", name, err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, ok := o.File(f.ID)
		if !ok {
			t.Fatalf("File %s vanished", f.ID)
		}
		if got.Status == models.StatusReady {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("File %q never became ready", name)
	return models.StagedFile{}
}

func TestStageCountsPages(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")

	f := stageAndWait(t, o, "notes.txt", strings.Repeat("x", 9*1024))
	if f.Pages != 2 {
		t.Errorf("9KB text = %d pages, want 2", f.Pages)
	}
	if f.Options.Copies != 1 || f.Options.PaperSize != models.PaperA4 {
		t.Errorf("Defaults not applied: %+v", f.Options)
	}
}

func TestStageReturnsStableSnapshot(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")

	for i := 0; i < 25; i++ {
		f, err := o.Stage(fmt.Sprintf("doc-%d.txt", i), "text/plain", strings.NewReader("data"), 4)
		if err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		if f.Status != models.StatusProcessing {
			t.Errorf("Stage snapshot status = %s, want processing", f.Status)
		}
		if f.Pages != 0 {
			t.Errorf("Stage snapshot pages = %d before the count lands", f.Pages)
		}
	}
}

func TestSetOptionsExpandsRange(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")
	f := stageAndWait(t, o, "doc.txt", strings.Repeat("x", 20*1024))

	got, err := o.SetOptions(f.ID, models.PrintOptions{
		Copies:        2,
		PaperSize:     models.PaperA4,
		ColorMode:     models.ColorColor,
		PaperType:     models.FinishNormal,
		PageSelection: models.SelectRange,
		PageRange:     "1-3,5",
	})
	if err != nil {
		t.Fatalf("SetOptions failed: %v", err)
	}
	want := []int{1, 2, 3, 5}
	if len(got.Options.SelectedPages) != 4 {
		t.Fatalf("SelectedPages = %v, want %v", got.Options.SelectedPages, want)
	}
	for i, p := range want {
		if got.Options.SelectedPages[i] != p {
			t.Errorf("SelectedPages = %v, want %v", got.Options.SelectedPages, want)
			break
		}
	}

	if _, err := o.SetOptions(f.ID, models.PrintOptions{
		PageSelection: models.SelectRange,
		PageRange:     "1-99",
	}); err == nil {
		t.Error("Expected an error for an out-of-range selection")
	}
}

func TestUploadAllCompletesBatch(t *testing.T) {
	srv := registerServer(t, nil)
	defer srv.Close()
	provider := &fakeProvider{}
	o := newOrchestrator(t, provider, srv.URL)

	stageAndWait(t, o, "a.txt", "aaaa")
	stageAndWait(t, o, "b.txt", "bbbb")

	res, err := o.UploadAll(context.Background(), testSession())
	if err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}
	if !res.Complete() || res.Completed != 2 {
		t.Fatalf("Batch did not complete: %+v", res)
	}

	ids, missing := o.Registered()
	if len(ids) != 2 || len(missing) != 0 {
		t.Errorf("Registered = (%v, %v)", ids, missing)
	}
	for _, f := range o.Files() {
		if f.Status != models.StatusCompleted || f.BackendFileID == "" {
			t.Errorf("File %q not completed: %+v", f.Name, f)
		}
	}
}

func TestUploadAllSettlesDespiteFailure(t *testing.T) {
	srv := registerServer(t, nil)
	defer srv.Close()
	o := newOrchestrator(t, &fakeProvider{}, srv.URL)

	stageAndWait(t, o, "good.txt", "gggg")
	bad := stageAndWait(t, o, "bad.txt", "bbbb")

	res, err := o.UploadAll(context.Background(), testSession())
	if err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}
	if res.Complete() {
		t.Fatal("Batch with a rejected file must not report complete")
	}
	if res.Completed != 1 || len(res.Failed) != 1 || res.Failed[0].FileID != bad.ID {
		t.Errorf("Unexpected result: %+v", res)
	}

	got, _ := o.File(bad.ID)
	if got.Status != models.StatusError || got.Error == "" {
		t.Errorf("Failed file state: %+v", got)
	}
	// The good file settled regardless
	ids, missing := o.Registered()
	if len(ids) != 1 || len(missing) != 1 || missing[0] != "bad.txt" {
		t.Errorf("Registered = (%v, %v)", ids, missing)
	}
}

func TestRetrySkipsCompletedStages(t *testing.T) {
	var attempts int32
	srv := registerServer(t, &attempts)
	defer srv.Close()
	provider := &fakeProvider{}
	o := newOrchestrator(t, provider, srv.URL)

	f := stageAndWait(t, o, "bad.txt", "bbbb")
	if _, err := o.UploadAll(context.Background(), testSession()); err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}
	if got := atomic.LoadInt32(&provider.uploads); got != 1 {
		t.Fatalf("Expected 1 storage upload, got %d", got)
	}

	// Registration keeps failing, but the storage stage must not rerun
	if err := o.Retry(context.Background(), f.ID, testSession()); err == nil {
		t.Fatal("Expected retry to fail while the backend rejects the file")
	}
	if got := atomic.LoadInt32(&provider.uploads); got != 1 {
		t.Errorf("Retry re-uploaded to storage: %d uploads", got)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("Expected 2 registration attempts, got %d", got)
	}
}

func TestRetryRequiresErrorState(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")
	f := stageAndWait(t, o, "a.txt", "aaaa")

	if err := o.Retry(context.Background(), f.ID, testSession()); err == nil {
		t.Error("Retrying a ready file must fail")
	}
	if err := o.Retry(context.Background(), "nope", testSession()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unknown id = %v, want ErrNotFound", err)
	}
}

func TestRemoveDeletesStagedCopy(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")
	f := stageAndWait(t, o, "a.txt", "aaaa")

	if err := o.Remove(f.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := o.File(f.ID); ok {
		t.Error("File still listed after removal")
	}
	if err := o.Remove(f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Second removal = %v, want ErrNotFound", err)
	}
}

func TestUploadAllRejectsProcessingFiles(t *testing.T) {
	o := newOrchestrator(t, &fakeProvider{}, "http://unused")
	if _, err := o.UploadAll(context.Background(), testSession()); err == nil {
		t.Error("Empty staging set must error")
	}
}

func TestNewAttemptResetsProgress(t *testing.T) {
	var reject int32 = 1
	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&reject) == 1 {
			http.Error(w, `{"error":"rejected"}`, http.StatusUnprocessableEntity)
			return
		}
		entered <- struct{}{}
		<-gate
		fmt.Fprint(w, `{"fileId":"bf-ok"}`)
	}))
	defer srv.Close()
	o := newOrchestratorN(t, &fakeProvider{}, srv.URL, 1)

	stageAndWait(t, o, "a.txt", "aaaa")
	b := stageAndWait(t, o, "b.txt", "bbbb")

	res, err := o.UploadAll(context.Background(), testSession())
	if err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}
	if res.Complete() {
		t.Fatal("First attempt was expected to fail registration")
	}
	for _, p := range o.Progress() {
		if p.Progress != 90 || p.Status != string(models.StatusError) {
			t.Fatalf("Unexpected state after the failed attempt: %+v", p)
		}
	}

	atomic.StoreInt32(&reject, 0)
	done := make(chan BatchResult, 1)
	go func() {
		res, _ := o.UploadAll(context.Background(), testSession())
		done <- res
	}()

	// The first file is held at registration; the second, still waiting
	// for the single upload slot, must show a clean slate instead of the
	// previous attempt's failure.
	<-entered
	for _, p := range o.Progress() {
		if p.FileID != b.ID {
			continue
		}
		if p.Progress != 0 || p.Error != "" || p.Status != string(models.StatusUploaded) {
			t.Errorf("Stale state carried into the new attempt: %+v", p)
		}
	}
	close(gate)

	if res := <-done; !res.Complete() {
		t.Errorf("Second attempt did not complete: %+v", res)
	}
}

func TestUploadProgressEvents(t *testing.T) {
	srv := registerServer(t, nil)
	defer srv.Close()
	o := newOrchestrator(t, &fakeProvider{}, srv.URL)

	ch, cancel, err := o.cfg.Bus.Subscribe(events.TopicUploadProgress, 64)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	stageAndWait(t, o, "a.txt", "aaaa")
	if _, err := o.UploadAll(context.Background(), testSession()); err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}

	sawCompleted := false
	deadline := time.After(2 * time.Second)
	for !sawCompleted {
		select {
		case ev := <-ch:
			up, ok := ev.Payload.(models.UploadProgress)
			if !ok {
				t.Fatalf("Unexpected payload type %T", ev.Payload)
			}
			if up.Status == string(models.StatusCompleted) && up.Progress == 100 {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatal("Never saw a completed progress event")
		}
	}
}
