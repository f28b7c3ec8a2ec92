// Package models provides data structures shared across the print kiosk agent
package models

import (
	"time"
)

// PaperSize is the physical sheet size a file is printed on
type PaperSize string

const (
	PaperA4 PaperSize = "A4"
	PaperA3 PaperSize = "A3"
)

// ColorMode selects black-and-white or color printing
type ColorMode string

const (
	ColorBW    ColorMode = "bw"
	ColorColor ColorMode = "color"
)

// PaperType is the paper finish
type PaperType string

const (
	FinishNormal PaperType = "normal"
	FinishMatt   PaperType = "matt"
	FinishGlossy PaperType = "glossy"
)

// PageSelection controls which pages of a file are printed
type PageSelection string

const (
	SelectAll      PageSelection = "all"
	SelectRange    PageSelection = "range"
	SelectSpecific PageSelection = "specific"
)

// PaymentMethod is how the customer pays for an order
type PaymentMethod string

const (
	PayCash     PaymentMethod = "cash"
	PayRazorpay PaymentMethod = "razorpay"
)

// FileStatus tracks a staged file through the upload pipeline
type FileStatus string

const (
	StatusProcessing  FileStatus = "processing"
	StatusReady       FileStatus = "ready"
	StatusUploading   FileStatus = "uploading"
	StatusUploaded    FileStatus = "uploaded"
	StatusRegistering FileStatus = "registering"
	StatusCompleted   FileStatus = "completed"
	StatusError       FileStatus = "error"
)

// Session identifies a customer's browsing session with the backend.
// It is persisted locally and considered invalid once the validity
// window measured from CreatedAt elapses.
type Session struct {
	SessionID    string    `json:"sessionId"`
	CustomerUUID string    `json:"customerUUID"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PrintOptions holds the per-file print configuration chosen by the customer
type PrintOptions struct {
	Copies        int           `json:"copies"`
	PaperSize     PaperSize     `json:"paperSize"`
	ColorMode     ColorMode     `json:"colorMode"`
	PaperType     PaperType     `json:"paperType"`
	Duplex        bool          `json:"duplex"`
	PageSelection PageSelection `json:"pageSelection"`
	PageRange     string        `json:"pageRange,omitempty"`
	SelectedPages []int         `json:"selectedPages,omitempty"`
}

// DefaultPrintOptions returns the options a freshly staged file starts with
func DefaultPrintOptions() PrintOptions {
	return PrintOptions{
		Copies:        1,
		PaperSize:     PaperA4,
		ColorMode:     ColorBW,
		PaperType:     FinishNormal,
		PageSelection: SelectAll,
	}
}

// StagedFile represents a customer file in the upload pipeline.
// Path points at the local staging copy of the raw bytes. A file is
// eligible for checkout only once BackendFileID is non-empty.
type StagedFile struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Size          int64             `json:"size"`
	ContentType   string            `json:"contentType"`
	Path          string            `json:"-"`
	Pages         int               `json:"pages"`
	PageMethod    string            `json:"pageMethod,omitempty"`
	Options       PrintOptions      `json:"options"`
	Status        FileStatus        `json:"status"`
	Error         string            `json:"error,omitempty"`
	PublicURL     string            `json:"publicUrl,omitempty"`
	StorageKey    string            `json:"storageKey,omitempty"`
	BackendFileID string            `json:"backendFileId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	StagedAt      time.Time         `json:"stagedAt"`
}

// UploadProgress is the ephemeral per-file transfer state for one
// checkout attempt. It is reset between attempts.
type UploadProgress struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Order is the client view of a backend order. The backend is the
// source of truth; the agent only holds the identifiers returned at
// creation and polls for status.
type Order struct {
	OrderID       string        `json:"orderId"`
	TotalAmount   float64       `json:"totalAmount"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Status        string        `json:"status,omitempty"`
	QueuePosition int           `json:"queuePosition,omitempty"`
}

// PriceTable maps paper size and color mode to a per-page unit price,
// with per-page deltas for paper finishes and an optional duplex factor.
type PriceTable struct {
	Rates        map[string]float64 `json:"rates"`
	FinishDeltas map[string]float64 `json:"finishDeltas,omitempty"`
	DuplexFactor float64            `json:"duplexFactor,omitempty"`
	FetchedAt    time.Time          `json:"fetchedAt"`
}

// RateKey builds the lookup key used in PriceTable.Rates, e.g. "a4_color"
func RateKey(size PaperSize, mode ColorMode) string {
	key := "a4"
	if size == PaperA3 {
		key = "a3"
	}
	if mode == ColorColor {
		return key + "_color"
	}
	return key + "_bw"
}

// APIResponse is the generic envelope for kiosk API responses
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
