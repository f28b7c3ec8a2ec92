package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/example/printkiosk/internal/models"
)

func newTestAPI(t *testing.T, servers ...string) *API {
	t.Helper()
	client, err := New(servers, newTestStore(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return NewAPI(client)
}

func sampleRegistration() FileRegistration {
	return FileRegistration{
		FileURL:       "https://files.example.com/doc.pdf",
		SessionID:     "s-1",
		CustomerUUID:  "c-1",
		Copies:        2,
		PaperSize:     models.PaperA4,
		ColorMode:     models.ColorColor,
		PaperType:     models.FinishNormal,
		TotalPages:    10,
		PageSelection: models.SelectRange,
		PageRange:     "1-3,5",
		SelectedPages: []int{1, 2, 3, 5},
	}
}

func TestRegisterFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Expected multipart content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("fileUrl"); got != "https://files.example.com/doc.pdf" {
			t.Errorf("fileUrl = %q", got)
		}
		if got := r.FormValue("selectedPages"); got != "[1,2,3,5]" {
			t.Errorf("selectedPages = %q", got)
		}
		if got := r.FormValue("copies"); got != "2" {
			t.Errorf("copies = %q", got)
		}
		w.Write([]byte(`{"success":true,"FileId":"backend-file-7"}`))
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	id, err := api.RegisterFile(context.Background(), sampleRegistration())
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	if id != "backend-file-7" {
		t.Errorf("File id = %q", id)
	}
}

func TestRegisterFileFallsBackToJSONOnce(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		ct := r.Header.Get("Content-Type")
		switch n {
		case 1:
			if !strings.HasPrefix(ct, "multipart/form-data") {
				t.Errorf("First attempt should be multipart, got %q", ct)
			}
			http.Error(w, "Connection closed: MinRequestBodyDataRate not satisfied", http.StatusBadRequest)
		case 2:
			if ct != "application/json" {
				t.Errorf("Fallback should be JSON, got %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			var fields map[string]string
			if err := json.Unmarshal(body, &fields); err != nil {
				t.Fatalf("Fallback body is not a JSON object: %v", err)
			}
			if fields["fileUrl"] == "" || fields["sessionId"] == "" {
				t.Errorf("Fallback body missing fields: %v", fields)
			}
			w.Write([]byte(`{"fileId":"after-fallback"}`))
		default:
			t.Errorf("Unexpected attempt %d", n)
		}
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	id, err := api.RegisterFile(context.Background(), sampleRegistration())
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	if id != "after-fallback" {
		t.Errorf("File id = %q", id)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRegisterFileOtherBadRequestIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, `{"error":"unsupported file type"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	_, err := api.RegisterFile(context.Background(), sampleRegistration())
	if err == nil {
		t.Fatal("Expected an error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Message != "unsupported file type" {
		t.Errorf("Expected the parsed backend message, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("A non-rate 400 must surface immediately, got %d attempts", attempts)
	}
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	var seenKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("Idempotency-Key")
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Bad order body: %v", err)
		}
		if req.PaymentMethod != "cash" || len(req.FileIds) != 2 {
			t.Errorf("Unexpected order request: %+v", req)
		}
		w.Write([]byte(`{"success":true,"orderId":"o-1","totalAmount":40}`))
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	out, err := api.CreateOrder(context.Background(), OrderRequest{
		CustomerUUID:  "c-1",
		CustomerName:  "Asha",
		PaymentMethod: "cash",
		FileIds:       []string{"f-1", "f-2"},
	}, "key-123")
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if out.OrderID != "o-1" || out.TotalAmount != 40 {
		t.Errorf("Unexpected order: %+v", out)
	}
	if seenKey != "key-123" {
		t.Errorf("Idempotency-Key = %q", seenKey)
	}
}

func TestShopStatusSendsNoStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-store" {
			t.Errorf("Expected no-store request header")
		}
		w.Write([]byte(`{"isOpen":true}`))
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	open, err := api.ShopStatus(context.Background())
	if err != nil || !open {
		t.Errorf("ShopStatus = (%v, %v)", open, err)
	}
}
