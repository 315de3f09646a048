package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Client is the payment provider capability the HTTP routes consume. It is
// constructed once at startup and injected; nothing here touches the SDK's
// package-level key.
type Client interface {
	FindOrCreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, update SubscriptionUpdate) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*stripe.Subscription, error)
	CreateRefund(ctx context.Context, params RefundParams) (*stripe.Refund, error)
	CreatePromotionCode(ctx context.Context, params PromoParams) (*stripe.PromotionCode, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	ListPayments(ctx context.Context, customerID string) ([]*stripe.PaymentIntent, error)
}

// CheckoutParams describes a hosted checkout session. Either PriceID or the
// ad-hoc price fields (UnitAmount/Currency/ProductName) must be set.
type CheckoutParams struct {
	Mode                string // "payment" or "subscription"
	PriceID             string
	UnitAmount          int64
	Currency            string
	ProductName         string
	Quantity            int64
	CustomerID          string
	CustomerEmail       string
	SuccessURL          string
	CancelURL           string
	TrialDays           int64
	PromotionCode       string
	AllowPromotionCodes bool
	ClientReferenceID   string
	Metadata            map[string]string
}

// RefundParams describes a full or partial refund in minor currency units.
// A zero Amount refunds the full charge.
type RefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
}

// PromoParams describes a coupon plus the promotion code that exposes it.
type PromoParams struct {
	Code           string
	PercentOff     float64
	AmountOff      int64
	Currency       string
	Duration       string // "once", "repeating", "forever"
	DurationMonths int64
	MaxRedemptions int64
}

// SubscriptionUpdate carries the mutable subscription fields.
type SubscriptionUpdate struct {
	PriceID           string
	Quantity          int64
	CancelAtPeriodEnd *bool
}

// StripeClient implements Client on the Stripe SDK.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(apiKey string) (*StripeClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe api key is required")
	}
	return &StripeClient{api: client.New(apiKey, nil)}, nil
}

// FindOrCreateCustomer returns the first customer matching the email, or
// creates one. The provider allows duplicate emails, so lookup-first keeps
// repeat checkouts attached to the same customer.
func (c *StripeClient) FindOrCreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("customer email is required")
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := c.api.Customers.List(listParams)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	createParams := &stripe.CustomerParams{Email: stripe.String(email)}
	createParams.Context = ctx
	if name != "" {
		createParams.Name = stripe.String(name)
	}
	customer, err := c.api.Customers.New(createParams)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error) {
	mode := params.Mode
	if mode == "" {
		mode = string(stripe.CheckoutSessionModePayment)
	}
	if mode != string(stripe.CheckoutSessionModePayment) && mode != string(stripe.CheckoutSessionModeSubscription) {
		return nil, fmt.Errorf("unsupported checkout mode: %s", mode)
	}

	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(quantity)}
	switch {
	case params.PriceID != "":
		lineItem.Price = stripe.String(params.PriceID)
	case params.UnitAmount > 0 && params.Currency != "" && params.ProductName != "":
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(params.Currency)),
			UnitAmount: stripe.Int64(params.UnitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(params.ProductName),
			},
		}
		if mode == string(stripe.CheckoutSessionModeSubscription) {
			priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String("month"),
			}
		}
		lineItem.PriceData = priceData
	default:
		return nil, errors.New("price id or unit amount, currency, and product name are required")
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(mode),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{lineItem},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	sessionParams.Context = ctx
	if params.CustomerID != "" {
		sessionParams.Customer = stripe.String(params.CustomerID)
	} else if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if params.ClientReferenceID != "" {
		sessionParams.ClientReferenceID = stripe.String(params.ClientReferenceID)
	}
	if params.PromotionCode != "" {
		sessionParams.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{PromotionCode: stripe.String(params.PromotionCode)},
		}
	} else if params.AllowPromotionCodes {
		sessionParams.AllowPromotionCodes = stripe.Bool(true)
	}
	if mode == string(stripe.CheckoutSessionModeSubscription) && params.TrialDays > 0 {
		sessionParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(params.TrialDays),
		}
	}
	for key, value := range params.Metadata {
		sessionParams.AddMetadata(key, value)
	}

	session, err := c.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return session, nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, id string, update SubscriptionUpdate) (*stripe.Subscription, error) {
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if update.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*update.CancelAtPeriodEnd)
	}
	if update.PriceID != "" {
		current, err := c.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Items == nil || len(current.Items.Data) == 0 {
			return nil, fmt.Errorf("subscription %s has no items", id)
		}
		item := &stripe.SubscriptionItemsParams{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(update.PriceID),
		}
		if update.Quantity > 0 {
			item.Quantity = stripe.Int64(update.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	}
	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", id, err)
	}
	return sub, nil
}

// CancelSubscription cancels immediately, or flags cancellation at period
// end when atPeriodEnd is set.
func (c *StripeClient) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*stripe.Subscription, error) {
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err := c.api.Subscriptions.Update(id, params)
		if err != nil {
			return nil, fmt.Errorf("cancel subscription %s at period end: %w", id, err)
		}
		return sub, nil
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *StripeClient) CreateRefund(ctx context.Context, params RefundParams) (*stripe.Refund, error) {
	if params.PaymentIntentID == "" {
		return nil, errors.New("payment intent id is required")
	}
	refundParams := &stripe.RefundParams{PaymentIntent: stripe.String(params.PaymentIntentID)}
	refundParams.Context = ctx
	if params.Amount > 0 {
		refundParams.Amount = stripe.Int64(params.Amount)
	}
	if params.Reason != "" {
		refundParams.Reason = stripe.String(params.Reason)
	}
	refund, err := c.api.Refunds.New(refundParams)
	if err != nil {
		return nil, fmt.Errorf("create refund for %s: %w", params.PaymentIntentID, err)
	}
	return refund, nil
}

// CreatePromotionCode creates the backing coupon first, then the customer
// facing promotion code pointing at it.
func (c *StripeClient) CreatePromotionCode(ctx context.Context, params PromoParams) (*stripe.PromotionCode, error) {
	if params.PercentOff <= 0 && params.AmountOff <= 0 {
		return nil, errors.New("percent off or amount off is required")
	}

	duration := params.Duration
	if duration == "" {
		duration = string(stripe.CouponDurationOnce)
	}
	couponParams := &stripe.CouponParams{Duration: stripe.String(duration)}
	couponParams.Context = ctx
	if params.PercentOff > 0 {
		couponParams.PercentOff = stripe.Float64(params.PercentOff)
	} else {
		if params.Currency == "" {
			return nil, errors.New("currency is required for amount off coupons")
		}
		couponParams.AmountOff = stripe.Int64(params.AmountOff)
		couponParams.Currency = stripe.String(strings.ToLower(params.Currency))
	}
	if duration == string(stripe.CouponDurationRepeating) && params.DurationMonths > 0 {
		couponParams.DurationInMonths = stripe.Int64(params.DurationMonths)
	}
	coupon, err := c.api.Coupons.New(couponParams)
	if err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	promoParams := &stripe.PromotionCodeParams{Coupon: stripe.String(coupon.ID)}
	promoParams.Context = ctx
	if params.Code != "" {
		promoParams.Code = stripe.String(params.Code)
	}
	if params.MaxRedemptions > 0 {
		promoParams.MaxRedemptions = stripe.Int64(params.MaxRedemptions)
	}
	promo, err := c.api.PromotionCodes.New(promoParams)
	if err != nil {
		return nil, fmt.Errorf("create promotion code: %w", err)
	}
	return promo, nil
}

func (c *StripeClient) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	iter := c.api.Subscriptions.List(params)
	var subs []*stripe.Subscription
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (c *StripeClient) ListPayments(ctx context.Context, customerID string) ([]*stripe.PaymentIntent, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}
	params := &stripe.PaymentIntentListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	iter := c.api.PaymentIntents.List(params)
	var intents []*stripe.PaymentIntent
	for iter.Next() {
		intents = append(intents, iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return intents, nil
}
