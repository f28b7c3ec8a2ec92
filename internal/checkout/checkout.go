// Package checkout turns the staged-file set into a backend order and
// settles payment, either at the counter in cash or online through
// Razorpay.
package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/events"
	"github.com/example/printkiosk/internal/kvstore"
	"github.com/example/printkiosk/internal/models"
	"github.com/example/printkiosk/internal/session"
	"github.com/example/printkiosk/internal/upload"
)

const customerNameKey = "customer-name"

// PendingFilesError reports staged files that are not yet registered
// with the backend and therefore block checkout.
type PendingFilesError struct {
	Files []string
}

func (e *PendingFilesError) Error() string {
	return fmt.Sprintf("files not ready for checkout: %s", strings.Join(e.Files, ", "))
}

// Intent is the outcome of order creation. For cash it is terminal;
// for Razorpay it carries what the payment widget needs.
type Intent struct {
	Order           models.Order `json:"order"`
	Settled         bool         `json:"settled"`
	RazorpayKeyID   string       `json:"razorpayKeyId,omitempty"`
	RazorpayOrderID string       `json:"razorpayOrderId,omitempty"`
	AmountPaise     int64        `json:"amountPaise,omitempty"`
}

// Verification carries the gateway's payment proof back to the backend
type Verification struct {
	OrderID           string           `json:"orderId"`
	PaymentID         string           `json:"paymentId"`
	RazorpayOrderID   string           `json:"razorpayOrderId"`
	RazorpayPaymentID string           `json:"razorpayPaymentId"`
	RazorpaySignature string           `json:"razorpaySignature"`
	IsColor           bool             `json:"isColor"`
	PaperSize         models.PaperSize `json:"paperSize"`
}

// Service runs checkout against the backend
type Service struct {
	api       *backend.API
	sessions  *session.Manager
	uploads   *upload.Orchestrator
	store     *kvstore.Store
	bus       *events.Bus
	keySecret string

	mu      sync.Mutex
	attempt *orderAttempt
}

// orderAttempt pins one idempotency key to one set of order parameters
// so a retried submission is recognized by the backend as the same
// order.
type orderAttempt struct {
	key         string
	fingerprint string
}

// NewService creates a checkout service. keySecret enables the local
// Razorpay signature precheck and may be empty.
func NewService(api *backend.API, sessions *session.Manager, uploads *upload.Orchestrator, store *kvstore.Store, bus *events.Bus, keySecret string) *Service {
	return &Service{
		api:       api,
		sessions:  sessions,
		uploads:   uploads,
		store:     store,
		bus:       bus,
		keySecret: keySecret,
	}
}

// CreateOrder submits the registered files as one order. Every
// precondition is checked locally before any network call. A failed
// submission retried with identical parameters reuses the same
// idempotency key; changing the parameters starts a fresh attempt.
func (s *Service) CreateOrder(ctx context.Context, customerName string, method models.PaymentMethod) (Intent, error) {
	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return Intent{}, errors.New("customer name is required")
	}
	if method != models.PayCash && method != models.PayRazorpay {
		return Intent{}, fmt.Errorf("unsupported payment method %q", method)
	}

	sess, err := s.sessions.Require()
	if err != nil {
		return Intent{}, err
	}

	ids, missing := s.uploads.Registered()
	if len(missing) > 0 {
		return Intent{}, &PendingFilesError{Files: missing}
	}
	if len(ids) == 0 {
		return Intent{}, errors.New("no files staged for checkout")
	}
	ids = dedup(ids)

	if err := s.store.Put(customerNameKey, customerName, 0); err != nil {
		log.Printf("Failed to persist customer name: %v", err)
	}

	key := s.idempotencyKey(customerName, method, ids)
	out, err := s.api.CreateOrder(ctx, backend.OrderRequest{
		CustomerUUID:  sess.CustomerUUID,
		CustomerName:  customerName,
		PaymentMethod: string(method),
		FileIds:       ids,
	}, key)
	if err != nil {
		return Intent{}, err
	}
	s.clearAttempt()

	order := models.Order{
		OrderID:       out.OrderID,
		TotalAmount:   out.TotalAmount,
		PaymentMethod: method,
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicOrderCreated, order)
	}

	if method == models.PayCash {
		return Intent{Order: order, Settled: true}, nil
	}
	return Intent{
		Order:           order,
		RazorpayKeyID:   out.RazorpayKeyID,
		RazorpayOrderID: out.RazorpayOrderID,
		AmountPaise:     int64(math.Round(out.TotalAmount * 100)),
	}, nil
}

// VerifyPayment forwards the gateway proof to the backend. When the
// Razorpay key secret is configured the signature is checked locally
// first, sparing the backend an obviously forged request.
func (s *Service) VerifyPayment(ctx context.Context, v Verification) error {
	if v.OrderID == "" || v.RazorpaySignature == "" {
		return errors.New("order id and signature are required")
	}
	if s.keySecret != "" && !s.signatureValid(v) {
		return errors.New("payment signature mismatch")
	}
	return s.api.VerifyPayment(ctx, backend.VerifyRequest{
		OrderID:           v.OrderID,
		PaymentID:         v.PaymentID,
		RazorpayOrderID:   v.RazorpayOrderID,
		RazorpayPaymentID: v.RazorpayPaymentID,
		RazorpaySignature: v.RazorpaySignature,
		IsColor:           v.IsColor,
		PaperSize:         v.PaperSize,
	})
}

// signatureValid applies Razorpay's documented scheme: hex HMAC-SHA256
// of "<order_id>|<payment_id>" under the key secret.
func (s *Service) signatureValid(v Verification) bool {
	mac := hmac.New(sha256.New, []byte(s.keySecret))
	fmt.Fprintf(mac, "%s|%s", v.RazorpayOrderID, v.RazorpayPaymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v.RazorpaySignature))
}

// OrderStatus polls the backend for the order's queue state
func (s *Service) OrderStatus(ctx context.Context, orderID string) (models.Order, error) {
	return s.api.OrderStatus(ctx, orderID)
}

// CustomerName returns the last name used at checkout, if any
func (s *Service) CustomerName() string {
	var name string
	if err := s.store.Get(customerNameKey, &name); err != nil {
		return ""
	}
	return name
}

func (s *Service) idempotencyKey(customerName string, method models.PaymentMethod, ids []string) string {
	fp := customerName + "|" + string(method) + "|" + strings.Join(ids, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != nil && s.attempt.fingerprint == fp {
		return s.attempt.key
	}
	s.attempt = &orderAttempt{key: uuid.NewString(), fingerprint: fp}
	return s.attempt.key
}

func (s *Service) clearAttempt() {
	s.mu.Lock()
	s.attempt = nil
	s.mu.Unlock()
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
