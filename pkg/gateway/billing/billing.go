// Package billing resolves a company's Stripe subscription to the plan it
// pays for. The plan is read once, when a job is created, and frozen there.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
)

// Subscriptions is the part of the Stripe client billing reads.
type Subscriptions interface {
	Retrieve(ctx context.Context, id string, params *stripe.SubscriptionRetrieveParams) (*stripe.Subscription, error)
}

type Stripe struct {
	subs   Subscriptions
	prices map[string]plan.Plan
	logger *slog.Logger
}

// NewStripe builds a plan source backed by the Stripe API. prices maps a
// Stripe price ID to the plan it grants.
func NewStripe(secretKey string, prices map[string]plan.Plan, logger *slog.Logger) *Stripe {
	return New(stripe.NewClient(secretKey).V1Subscriptions, prices, logger)
}

func New(subs Subscriptions, prices map[string]plan.Plan, logger *slog.Logger) *Stripe {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[string]plan.Plan, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Stripe{subs: subs, prices: cp, logger: logger}
}

// PlanForSubscription returns the highest plan granted by the subscription's
// prices. Only active and trialing subscriptions grant a plan. A price with
// no configured mapping falls back to its lookup key when that names a plan.
func (s *Stripe) PlanForSubscription(ctx context.Context, subscriptionID string) (plan.Plan, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return "", core.NewInvalidRequestErrorWithParam("stripe_subscription_id is required", "stripe_subscription_id")
	}

	sub, err := s.subs.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return "", fmt.Errorf("subscription %s: %w", subscriptionID, session.ErrNotFound)
		}
		s.logger.Warn("stripe subscription lookup failed", "subscription_id", subscriptionID, "error", err)
		return "", core.NewAPIError("subscription lookup failed")
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		return "", core.NewPermissionError(fmt.Sprintf("subscription is %s", sub.Status), "subscription_inactive")
	}

	best := plan.Plan("")
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			p, ok := s.planForPrice(item.Price)
			if ok && rank(p) > rank(best) {
				best = p
			}
		}
	}
	if best == "" {
		return "", &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "subscription has no price mapped to a plan",
			Param:   "stripe_subscription_id",
			Code:    "unknown_price",
		}
	}
	return best, nil
}

func (s *Stripe) planForPrice(price *stripe.Price) (plan.Plan, bool) {
	if p, ok := s.prices[price.ID]; ok {
		return p, true
	}
	if price.LookupKey != "" {
		if p, err := plan.Parse(price.LookupKey); err == nil {
			return p, true
		}
	}
	return "", false
}

func rank(p plan.Plan) int {
	switch p {
	case plan.Free:
		return 1
	case plan.Pro:
		return 2
	case plan.Ultra:
		return 3
	default:
		return 0
	}
}
