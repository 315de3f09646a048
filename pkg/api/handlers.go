package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"stripehooks/pkg/billing"
)

// CheckoutHandler creates hosted checkout sessions (payment or subscription
// mode, with trial days and promo-code discounts).
type CheckoutHandler struct {
	Billing billing.Client
	Logger  *log.Logger
}

type checkoutRequest struct {
	Mode          string            `json:"mode"`
	PriceID       string            `json:"price_id"`
	UnitAmount    int64             `json:"unit_amount"`
	Currency      string            `json:"currency"`
	ProductName   string            `json:"product_name"`
	Quantity      int64             `json:"quantity"`
	Email         string            `json:"email"`
	Name          string            `json:"name"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	TrialDays     int64             `json:"trial_days"`
	PromotionCode string            `json:"promotion_code"`
	AllowPromos   bool              `json:"allow_promotion_codes"`
	Metadata      map[string]string `json:"metadata"`
}

func (h *CheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Billing == nil {
		http.Error(w, "billing not configured", http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		http.Error(w, "success_url and cancel_url are required", http.StatusBadRequest)
		return
	}

	params := billing.CheckoutParams{
		Mode:                req.Mode,
		PriceID:             req.PriceID,
		UnitAmount:          req.UnitAmount,
		Currency:            req.Currency,
		ProductName:         req.ProductName,
		Quantity:            req.Quantity,
		CustomerEmail:       req.Email,
		SuccessURL:          req.SuccessURL,
		CancelURL:           req.CancelURL,
		TrialDays:           req.TrialDays,
		PromotionCode:       req.PromotionCode,
		AllowPromotionCodes: req.AllowPromos,
		Metadata:            req.Metadata,
	}
	if req.Email != "" {
		customer, err := h.Billing.FindOrCreateCustomer(r.Context(), req.Email, req.Name)
		if err != nil {
			h.logf("find or create customer failed: %v", err)
			http.Error(w, "customer lookup failed", http.StatusBadGateway)
			return
		}
		params.CustomerID = customer.ID
		params.CustomerEmail = ""
	}

	session, err := h.Billing.CreateCheckoutSession(r.Context(), params)
	if err != nil {
		h.logf("create checkout session failed: %v", err)
		http.Error(w, "checkout session failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]string{
		"id":  session.ID,
		"url": session.URL,
	})
}

func (h *CheckoutHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

// RefundHandler creates full or partial refunds in minor currency units.
type RefundHandler struct {
	Billing billing.Client
	Logger  *log.Logger
}

type refundRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason"`
}

func (h *RefundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Billing == nil {
		http.Error(w, "billing not configured", http.StatusServiceUnavailable)
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PaymentIntentID == "" {
		http.Error(w, "payment_intent_id is required", http.StatusBadRequest)
		return
	}

	refund, err := h.Billing.CreateRefund(r.Context(), billing.RefundParams{
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Amount,
		Reason:          req.Reason,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("create refund failed: %v", err)
		}
		http.Error(w, "refund failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":     refund.ID,
		"amount": refund.Amount,
		"status": string(refund.Status),
	})
}

// PromoHandler creates a coupon and its promotion code.
type PromoHandler struct {
	Billing billing.Client
	Logger  *log.Logger
}

type promoRequest struct {
	Code           string  `json:"code"`
	PercentOff     float64 `json:"percent_off"`
	AmountOff      int64   `json:"amount_off"`
	Currency       string  `json:"currency"`
	Duration       string  `json:"duration"`
	DurationMonths int64   `json:"duration_months"`
	MaxRedemptions int64   `json:"max_redemptions"`
}

func (h *PromoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Billing == nil {
		http.Error(w, "billing not configured", http.StatusServiceUnavailable)
		return
	}

	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	promo, err := h.Billing.CreatePromotionCode(r.Context(), billing.PromoParams{
		Code:           req.Code,
		PercentOff:     req.PercentOff,
		AmountOff:      req.AmountOff,
		Currency:       req.Currency,
		Duration:       req.Duration,
		DurationMonths: req.DurationMonths,
		MaxRedemptions: req.MaxRedemptions,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("create promotion code failed: %v", err)
		}
		http.Error(w, "promotion code failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]string{
		"id":     promo.ID,
		"code":   promo.Code,
		"coupon": promo.Coupon.ID,
	})
}

// SubscriptionHandler retrieves, updates, and cancels subscriptions.
type SubscriptionHandler struct {
	Billing billing.Client
	Logger  *log.Logger
}

type subscriptionUpdateRequest struct {
	ID                string `json:"id"`
	PriceID           string `json:"price_id"`
	Quantity          int64  `json:"quantity"`
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end"`
}

func (h *SubscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Billing == nil {
		http.Error(w, "billing not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.update(w, r)
	case http.MethodDelete:
		h.cancel(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SubscriptionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		customerID := strings.TrimSpace(r.URL.Query().Get("customer"))
		if customerID == "" {
			http.Error(w, "id or customer is required", http.StatusBadRequest)
			return
		}
		subs, err := h.Billing.ListSubscriptions(r.Context(), customerID)
		if err != nil {
			h.logf("list subscriptions failed: %v", err)
			http.Error(w, "list subscriptions failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, subs)
		return
	}

	sub, err := h.Billing.GetSubscription(r.Context(), id)
	if err != nil {
		h.logf("get subscription failed: %v", err)
		http.Error(w, "get subscription failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, sub)
}

func (h *SubscriptionHandler) update(w http.ResponseWriter, r *http.Request) {
	var req subscriptionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.Billing.UpdateSubscription(r.Context(), req.ID, billing.SubscriptionUpdate{
		PriceID:           req.PriceID,
		Quantity:          req.Quantity,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
	})
	if err != nil {
		h.logf("update subscription failed: %v", err)
		http.Error(w, "update subscription failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, sub)
}

func (h *SubscriptionHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	atPeriodEnd := r.URL.Query().Get("at_period_end") == "true"

	sub, err := h.Billing.CancelSubscription(r.Context(), id, atPeriodEnd)
	if err != nil {
		h.logf("cancel subscription failed: %v", err)
		http.Error(w, "cancel subscription failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{
		"id":                   sub.ID,
		"status":               string(sub.Status),
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

func (h *SubscriptionHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
