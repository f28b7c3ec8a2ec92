package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/printkiosk/internal/models"
)

// Per-operation call budgets. Gating checks stay short so the UI is
// never stuck behind a dead origin; transfers get the full default.
const (
	shopStatusTimeout  = 8 * time.Second
	sessionTimeout     = 10 * time.Second
	pricingTimeout     = 10 * time.Second
	orderTimeout       = 25 * time.Second
	verifyTimeout      = 25 * time.Second
	orderStatusTimeout = 8 * time.Second
)

// API exposes the backend's HTTP contract as typed operations
type API struct {
	c *Client
}

// NewAPI wraps a load-balanced client
func NewAPI(c *Client) *API {
	return &API{c: c}
}

func noStore() http.Header {
	h := http.Header{}
	h.Set("Cache-Control", "no-store")
	return h
}

func jsonBody(v interface{}) BodyFunc {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// ShopStatus reports whether the shop is accepting orders
func (a *API) ShopStatus(ctx context.Context) (bool, error) {
	resp, err := a.c.Do(ctx, http.MethodGet, "/customer/shop-status", nil, Options{
		Timeout: shopStatusTimeout,
		Header:  noStore(),
	})
	if err != nil {
		return false, err
	}
	return ParseShopStatus(resp.Body)
}

// CreateSession asks the backend for a new customer session
func (a *API) CreateSession(ctx context.Context) (models.Session, error) {
	resp, err := a.c.Do(ctx, http.MethodPost, "/customer/create-session",
		jsonBody(struct{}{}), Options{Timeout: sessionTimeout})
	if err != nil {
		return models.Session{}, err
	}
	return ParseSession(resp.Body, time.Now())
}

// ValidateSession asks the backend whether a stored session is still valid
func (a *API) ValidateSession(ctx context.Context, customerUUID string) (bool, error) {
	resp, err := a.c.Do(ctx, http.MethodPost, "/customer/validate-session",
		jsonBody(map[string]string{"customerUUID": customerUUID}),
		Options{Timeout: sessionTimeout})
	if err != nil {
		return false, err
	}
	return ParseValidation(resp.Body)
}

// FetchPricing retrieves the current price table
func (a *API) FetchPricing(ctx context.Context) (models.PriceTable, error) {
	resp, err := a.c.Do(ctx, http.MethodGet, "/customer/pricing", nil,
		Options{Timeout: pricingTimeout})
	if err != nil {
		return models.PriceTable{}, err
	}
	return ParsePriceTable(resp.Body, time.Now())
}

// FileRegistration is the metadata submitted for an uploaded file
type FileRegistration struct {
	FileURL       string
	SessionID     string
	CustomerUUID  string
	Copies        int
	PaperSize     models.PaperSize
	ColorMode     models.ColorMode
	PaperType     models.PaperType
	Duplex        bool
	TotalPages    int
	PageSelection models.PageSelection
	PageRange     string
	SelectedPages []int
}

func (r FileRegistration) fields() (map[string]string, error) {
	selected, err := json.Marshal(r.SelectedPages)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"fileUrl":       r.FileURL,
		"sessionId":     r.SessionID,
		"customerUUID":  r.CustomerUUID,
		"copies":        strconv.Itoa(r.Copies),
		"paperSize":     string(r.PaperSize),
		"colorMode":     string(r.ColorMode),
		"paperType":     string(r.PaperType),
		"duplex":        strconv.FormatBool(r.Duplex),
		"totalPages":    strconv.Itoa(r.TotalPages),
		"pageSelection": string(r.PageSelection),
		"pageRange":     r.PageRange,
		"selectedPages": string(selected),
	}, nil
}

func multipartBody(r FileRegistration) BodyFunc {
	return func() (io.Reader, string, error) {
		fields, err := r.fields()
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
}

// RegisterFile submits an uploaded file's metadata and returns the
// backend file identifier. Some backend pool members enforce a minimum
// request body data rate that small multipart bodies can trip; that
// specific 400 is retried once with an equivalent JSON body. Failover
// is disabled so error bodies reach this logic unchanged.
func (a *API) RegisterFile(ctx context.Context, reg FileRegistration) (string, error) {
	resp, err := a.c.Do(ctx, http.MethodPost, "/customer/upload", multipartBody(reg),
		Options{NoRetry: true})
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(resp.Body), "MinRequestBodyDataRate") {
		fields, ferr := reg.fields()
		if ferr != nil {
			return "", ferr
		}
		resp, err = a.c.Do(ctx, http.MethodPost, "/customer/upload", jsonBody(fields),
			Options{NoRetry: true})
		if err != nil {
			return "", err
		}
	}

	if !resp.OK() {
		return "", &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
	}
	return ParseFileID(resp.Body)
}

// OrderRequest is the POST /order/create payload. Field casing follows
// the backend's contract.
type OrderRequest struct {
	CustomerUUID  string   `json:"CustomerUUID"`
	CustomerName  string   `json:"CustomerName"`
	PaymentMethod string   `json:"PaymentMethod"`
	FileIds       []string `json:"FileIds"`
}

// CreateOrder creates an order. The idempotency key is minted once per
// checkout attempt so a retry after a timeout cannot create a
// duplicate order on a backend that honors the header.
func (a *API) CreateOrder(ctx context.Context, req OrderRequest, idempotencyKey string) (OrderCreated, error) {
	hdr := http.Header{}
	if idempotencyKey != "" {
		hdr.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := a.c.Do(ctx, http.MethodPost, "/order/create", jsonBody(req),
		Options{Timeout: orderTimeout, Header: hdr})
	if err != nil {
		return OrderCreated{}, err
	}
	if !resp.OK() {
		return OrderCreated{}, &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
	}
	return ParseOrderCreated(resp.Body)
}

// VerifyRequest carries the gateway's identifiers and signature back
// to the backend for server-side verification.
type VerifyRequest struct {
	OrderID           string           `json:"OrderId"`
	PaymentID         string           `json:"PaymentId"`
	RazorpayOrderID   string           `json:"RazorpayOrderId"`
	RazorpayPaymentID string           `json:"RazorpayPaymentId"`
	RazorpaySignature string           `json:"RazorpaySignature"`
	IsColor           bool             `json:"IsColor"`
	PaperSize         models.PaperSize `json:"PaperSize"`
}

// VerifyPayment confirms an online payment with the backend
func (a *API) VerifyPayment(ctx context.Context, req VerifyRequest) error {
	resp, err := a.c.Do(ctx, http.MethodPost, "/order/verify-payment", jsonBody(req),
		Options{Timeout: verifyTimeout})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
	}
	return ParseVerify(resp.Body)
}

// OrderStatus polls the backend for an order's state
func (a *API) OrderStatus(ctx context.Context, sessionIDOrUUID string) (models.Order, error) {
	if sessionIDOrUUID == "" {
		return models.Order{}, fmt.Errorf("order status requires a session id or customer uuid")
	}
	resp, err := a.c.Do(ctx, http.MethodGet, "/customer/status/"+sessionIDOrUUID, nil,
		Options{Timeout: orderStatusTimeout, Header: noStore()})
	if err != nil {
		return models.Order{}, err
	}
	if !resp.OK() {
		return models.Order{}, &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
	}
	return ParseOrderStatus(resp.Body)
}
