// Package handlers exposes the kiosk agent's HTTP API to the UI
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/checkout"
	"github.com/example/printkiosk/internal/models"
	"github.com/example/printkiosk/internal/pricing"
	"github.com/example/printkiosk/internal/session"
	"github.com/example/printkiosk/internal/upload"
)

const defaultMaxUpload = 64 << 20

// API holds the services the HTTP layer fronts
type API struct {
	sessions  *session.Manager
	uploads   *upload.Orchestrator
	pricing   *pricing.Service
	checkout  *checkout.Service
	hub       *Hub
	maxUpload int64
}

// NewAPI creates the HTTP layer. maxUpload of 0 selects the default.
func NewAPI(sessions *session.Manager, uploads *upload.Orchestrator, pricingSvc *pricing.Service, checkoutSvc *checkout.Service, hub *Hub, maxUpload int64) *API {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &API{
		sessions:  sessions,
		uploads:   uploads,
		pricing:   pricingSvc,
		checkout:  checkoutSvc,
		hub:       hub,
		maxUpload: maxUpload,
	}
}

// Router builds the route table
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/shop-status", a.handleShopStatus).Methods(http.MethodGet)
	api.HandleFunc("/session", a.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/refresh", a.handleSessionRefresh).Methods(http.MethodPost)
	api.HandleFunc("/pricing", a.handlePricing).Methods(http.MethodGet)
	api.HandleFunc("/quote", a.handleQuote).Methods(http.MethodGet)

	api.HandleFunc("/files", a.handleStageFile).Methods(http.MethodPost)
	api.HandleFunc("/files", a.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}/options", a.handleSetOptions).Methods(http.MethodPatch)
	api.HandleFunc("/files/{id}/retry", a.handleRetryFile).Methods(http.MethodPost)
	api.HandleFunc("/files/{id}", a.handleRemoveFile).Methods(http.MethodDelete)

	api.HandleFunc("/uploads", a.handleUploadAll).Methods(http.MethodPost)
	api.HandleFunc("/uploads/progress", a.handleProgress).Methods(http.MethodGet)

	api.HandleFunc("/checkout", a.handleCheckout).Methods(http.MethodPost)
	api.HandleFunc("/checkout/verify", a.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", a.handleOrderStatus).Methods(http.MethodGet)

	if a.hub != nil {
		r.HandleFunc("/ws", a.hub.ServeWS)
	}
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, _ := a.sessions.Status()
	sendJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"session": string(state),
		},
	})
}

func (a *API) handleShopStatus(w http.ResponseWriter, r *http.Request) {
	open, err := a.sessions.ShopOpen(r.Context())
	if err != nil {
		sendBackendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    map[string]bool{"open": open},
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Initialize(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrShopClosed) {
			sendJSONError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		sendBackendError(w, err)
		return
	}
	state, _ := a.sessions.Status()
	sendJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"session": sess,
			"state":   string(state),
		},
	})
}

func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrShopClosed) {
			sendJSONError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		sendBackendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: sess})
}

func (a *API) handlePricing(w http.ResponseWriter, r *http.Request) {
	table := a.pricing.Table(r.Context())
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: table})
}

type quoteItem struct {
	FileID string  `json:"fileId"`
	Name   string  `json:"name"`
	Pages  int     `json:"pages"`
	Cost   float64 `json:"cost"`
}

// handleQuote prices the current staged set without touching the
// backend beyond a possible price-table refresh.
func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	table := a.pricing.Table(r.Context())

	var items []quoteItem
	var total float64
	for _, f := range a.uploads.Files() {
		pages := f.Pages
		if len(f.Options.SelectedPages) > 0 {
			pages = len(f.Options.SelectedPages)
		}
		if pages < 1 {
			continue
		}
		cost, err := pricing.Calculate(table, f.Options, pages)
		if err != nil {
			sendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		items = append(items, quoteItem{FileID: f.ID, Name: f.Name, Pages: pages, Cost: cost})
		total += cost
	}
	sendJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"items": items,
			"total": total,
		},
	})
}

func (a *API) handleStageFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		sendJSONError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendJSONError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	staged, err := a.uploads.Stage(header.Filename, contentType, file, header.Size)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sendJSON(w, http.StatusCreated, models.APIResponse{Success: true, Data: staged})
}

func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: a.uploads.Files()})
}

func (a *API) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	var opts models.PrintOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		sendJSONError(w, "Invalid options body", http.StatusBadRequest)
		return
	}
	f, err := a.uploads.SetOptions(mux.Vars(r)["id"], opts)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			sendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		sendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: f})
}

func (a *API) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	if err := a.uploads.Remove(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			sendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		sendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) handleRetryFile(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Require()
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.uploads.Retry(r.Context(), id, sess); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			sendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		sendBackendError(w, err)
		return
	}
	f, _ := a.uploads.File(id)
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: f})
}

func (a *API) handleUploadAll(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Require()
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	res, err := a.uploads.UploadAll(r.Context(), sess)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: res.Complete(), Data: res})
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: a.uploads.Progress()})
}

type checkoutRequest struct {
	CustomerName  string               `json:"customerName"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid checkout body", http.StatusBadRequest)
		return
	}

	intent, err := a.checkout.CreateOrder(r.Context(), req.CustomerName, req.PaymentMethod)
	if err != nil {
		var pending *checkout.PendingFilesError
		switch {
		case errors.As(err, &pending):
			sendJSONError(w, pending.Error(), http.StatusConflict)
		case errors.Is(err, session.ErrNotReady):
			sendJSONError(w, err.Error(), http.StatusConflict)
		default:
			sendBackendError(w, err)
		}
		return
	}
	sendJSON(w, http.StatusCreated, models.APIResponse{Success: true, Data: intent})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var v checkout.Verification
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		sendJSONError(w, "Invalid verification body", http.StatusBadRequest)
		return
	}
	if err := a.checkout.VerifyPayment(r.Context(), v); err != nil {
		sendBackendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "payment verified"})
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, err := a.checkout.OrderStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendBackendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: order})
}

// sendBackendError maps backend failures onto gateway-style statuses
func sendBackendError(w http.ResponseWriter, err error) {
	var statusErr *backend.StatusError
	switch {
	case backend.IsTimeout(err):
		sendJSONError(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, backend.ErrAllServersFailed):
		sendJSONError(w, err.Error(), http.StatusBadGateway)
	case errors.As(err, &statusErr):
		sendJSONError(w, statusErr.Message, http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// Client went away; status code is moot
		sendJSONError(w, "request canceled", http.StatusBadGateway)
	default:
		sendJSONError(w, err.Error(), http.StatusBadGateway)
	}
}

func sendJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func sendJSONError(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, models.APIResponse{Success: false, Error: message})
}
