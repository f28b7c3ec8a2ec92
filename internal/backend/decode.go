package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/printkiosk/internal/models"
)

// This file is the single tolerant-parsing boundary for backend JSON.
// The backend emits fields in several casings depending on the handler
// that produced them; every decoder here normalizes keys once (lowered,
// underscores stripped) and fails loudly when no recognized field
// carries the datum.

func loose(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	m := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		m[normKey(k)] = v
	}
	return m, nil
}

func normKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(k), "_", "")
}

func lookup(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(m map[string]interface{}, keys ...string) (string, bool) {
	v, ok := lookup(m, keys...)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}

func lookupBool(m map[string]interface{}, keys ...string) (bool, bool) {
	v, ok := lookup(m, keys...)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	case float64:
		return b != 0, true
	}
	return false, false
}

func lookupFloat(m map[string]interface{}, keys ...string) (float64, bool) {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func lookupMap(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil, false
	}
	if raw, ok := v.(map[string]interface{}); ok {
		nested := make(map[string]interface{}, len(raw))
		for k, val := range raw {
			nested[normKey(k)] = val
		}
		return nested, true
	}
	return nil, false
}

// ErrorMessage extracts a human-readable message from an error body,
// falling back to the raw text and finally the status text.
func ErrorMessage(body []byte, status int) string {
	if m, err := loose(body); err == nil {
		if s, ok := lookupString(m, "error", "message", "errormessage", "detail"); ok {
			return s
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 300 {
			text = text[:300]
		}
		return text
	}
	return http.StatusText(status)
}

// ParseShopStatus decodes GET /customer/shop-status
func ParseShopStatus(body []byte) (bool, error) {
	m, err := loose(body)
	if err != nil {
		return false, fmt.Errorf("shop status: %w", err)
	}
	if open, ok := lookupBool(m, "isopen", "open", "shopopen", "success"); ok {
		return open, nil
	}
	return false, fmt.Errorf("shop status response carries no open flag")
}

// ParseSession decodes POST /customer/create-session
func ParseSession(body []byte, now time.Time) (models.Session, error) {
	m, err := loose(body)
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	if ok, present := lookupBool(m, "success"); present && !ok {
		return models.Session{}, fmt.Errorf("session creation rejected: %s", ErrorMessage(body, http.StatusOK))
	}
	id, ok := lookupString(m, "sessionid")
	if !ok {
		return models.Session{}, fmt.Errorf("session response carries no session id")
	}
	uuid, ok := lookupString(m, "customeruuid", "uuid", "customerid")
	if !ok {
		return models.Session{}, fmt.Errorf("session response carries no customer uuid")
	}
	return models.Session{SessionID: id, CustomerUUID: uuid, CreatedAt: now}, nil
}

// ParseValidation decodes POST /customer/validate-session
func ParseValidation(body []byte) (bool, error) {
	m, err := loose(body)
	if err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}
	valid, ok := lookupBool(m, "valid", "isvalid")
	if !ok {
		return false, fmt.Errorf("validation response carries no valid flag")
	}
	if success, present := lookupBool(m, "success"); present && !success {
		return false, nil
	}
	return valid, nil
}

// ParseFileID decodes the registered-file identifier, which the
// backend returns under a handful of historical keys.
func ParseFileID(body []byte) (string, error) {
	m, err := loose(body)
	if err != nil {
		return "", fmt.Errorf("register file: %w", err)
	}
	if data, ok := lookupMap(m, "data", "file"); ok {
		if id, ok := lookupString(data, "fileid", "id", "uploadid", "filekey", "backendfileid", "documentid"); ok {
			return id, nil
		}
	}
	if id, ok := lookupString(m, "fileid", "id", "uploadid", "filekey", "backendfileid", "documentid"); ok {
		return id, nil
	}
	return "", fmt.Errorf("registration response carries no file identifier")
}

// ParsePriceTable decodes GET /customer/pricing, accepting both the
// flat and the nested table shape. At minimum the A4 rates must be
// present; missing A3 rates default to twice A4.
func ParsePriceTable(body []byte, now time.Time) (models.PriceTable, error) {
	m, err := loose(body)
	if err != nil {
		return models.PriceTable{}, fmt.Errorf("pricing: %w", err)
	}
	if nested, ok := lookupMap(m, "pricing", "prices", "data", "config"); ok {
		m = nested
	}

	t := models.PriceTable{
		Rates:        make(map[string]float64),
		FinishDeltas: make(map[string]float64),
		DuplexFactor: 1,
		FetchedAt:    now,
	}

	rateKeys := map[string][]string{
		"a4_bw":    {"a4bw", "a4blackwhite", "a4mono"},
		"a4_color": {"a4color", "a4colour"},
		"a3_bw":    {"a3bw", "a3blackwhite", "a3mono"},
		"a3_color": {"a3color", "a3colour"},
	}
	for canonical, candidates := range rateKeys {
		if v, ok := lookupFloat(m, candidates...); ok {
			t.Rates[canonical] = v
		}
	}
	if _, ok := t.Rates["a4_bw"]; !ok {
		return models.PriceTable{}, fmt.Errorf("pricing response carries no A4 black-and-white rate")
	}
	if _, ok := t.Rates["a4_color"]; !ok {
		return models.PriceTable{}, fmt.Errorf("pricing response carries no A4 color rate")
	}
	if _, ok := t.Rates["a3_bw"]; !ok {
		t.Rates["a3_bw"] = t.Rates["a4_bw"] * 2
	}
	if _, ok := t.Rates["a3_color"]; !ok {
		t.Rates["a3_color"] = t.Rates["a4_color"] * 2
	}

	for _, finish := range []string{"matt", "glossy"} {
		if v, ok := lookupFloat(m, finish, finish+"delta", finish+"surcharge"); ok {
			t.FinishDeltas[finish] = v
		}
	}
	if v, ok := lookupFloat(m, "duplexfactor"); ok && v > 0 {
		t.DuplexFactor = v
	}
	return t, nil
}

// OrderCreated is the client view of a successful POST /order/create
type OrderCreated struct {
	OrderID         string
	TotalAmount     float64
	RazorpayKeyID   string
	RazorpayOrderID string
	PaymentID       string
}

// ParseOrderCreated decodes POST /order/create
func ParseOrderCreated(body []byte) (OrderCreated, error) {
	m, err := loose(body)
	if err != nil {
		return OrderCreated{}, fmt.Errorf("create order: %w", err)
	}
	if success, present := lookupBool(m, "success"); present && !success {
		return OrderCreated{}, fmt.Errorf("order creation rejected: %s", ErrorMessage(body, http.StatusOK))
	}
	id, ok := lookupString(m, "orderid")
	if !ok {
		return OrderCreated{}, fmt.Errorf("order response carries no order id")
	}
	out := OrderCreated{OrderID: id}
	out.RazorpayKeyID, _ = lookupString(m, "razorpaykeyid", "keyid")
	out.RazorpayOrderID, _ = lookupString(m, "razorpayorderid")
	out.PaymentID, _ = lookupString(m, "paymentid")
	out.TotalAmount, _ = lookupFloat(m, "totalamount", "amount")
	return out, nil
}

// ParseVerify decodes POST /order/verify-payment
func ParseVerify(body []byte) error {
	m, err := loose(body)
	if err != nil {
		return fmt.Errorf("verify payment: %w", err)
	}
	success, ok := lookupBool(m, "success")
	if !ok {
		return fmt.Errorf("verification response carries no success flag")
	}
	if !success {
		return fmt.Errorf("payment verification failed: %s", ErrorMessage(body, http.StatusOK))
	}
	return nil
}

// ParseOrderStatus decodes GET /customer/status/{id}
func ParseOrderStatus(body []byte) (models.Order, error) {
	m, err := loose(body)
	if err != nil {
		return models.Order{}, fmt.Errorf("order status: %w", err)
	}
	var o models.Order
	o.OrderID, _ = lookupString(m, "orderid")
	status, ok := lookupString(m, "status", "orderstatus", "state")
	if !ok {
		return models.Order{}, fmt.Errorf("status response carries no order state")
	}
	o.Status = status
	if pos, ok := lookupFloat(m, "queueposition", "position"); ok {
		o.QueuePosition = int(pos)
	}
	o.TotalAmount, _ = lookupFloat(m, "totalamount", "amount")
	return o, nil
}
