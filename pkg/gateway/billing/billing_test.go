package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
)

type fakeSubscriptions struct {
	subs  map[string]*stripe.Subscription
	err   error
	calls int
}

func (f *fakeSubscriptions) Retrieve(ctx context.Context, id string, params *stripe.SubscriptionRetrieveParams) (*stripe.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing, Msg: "No such subscription"}
	}
	return sub, nil
}

func subscription(status stripe.SubscriptionStatus, prices ...*stripe.Price) *stripe.Subscription {
	items := make([]*stripe.SubscriptionItem, 0, len(prices))
	for _, p := range prices {
		items = append(items, &stripe.SubscriptionItem{Price: p})
	}
	return &stripe.Subscription{Status: status, Items: &stripe.SubscriptionItemList{Data: items}}
}

func newTestBilling(f *fakeSubscriptions) *Stripe {
	return New(f, map[string]plan.Plan{
		"price_pro":   plan.Pro,
		"price_ultra": plan.Ultra,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPlanForSubscription_MapsPrices(t *testing.T) {
	f := &fakeSubscriptions{subs: map[string]*stripe.Subscription{
		"sub_pro":      subscription(stripe.SubscriptionStatusActive, &stripe.Price{ID: "price_pro"}),
		"sub_both":     subscription(stripe.SubscriptionStatusTrialing, &stripe.Price{ID: "price_pro"}, &stripe.Price{ID: "price_ultra"}),
		"sub_lookup":   subscription(stripe.SubscriptionStatusActive, &stripe.Price{ID: "price_other", LookupKey: "free"}),
		"sub_unmapped": subscription(stripe.SubscriptionStatusActive, &stripe.Price{ID: "price_other", LookupKey: "enterprise"}),
	}}
	b := newTestBilling(f)
	ctx := context.Background()

	tests := []struct {
		id   string
		want plan.Plan
	}{
		{"sub_pro", plan.Pro},
		{"sub_both", plan.Ultra},
		{"sub_lookup", plan.Free},
	}
	for _, tc := range tests {
		got, err := b.PlanForSubscription(ctx, tc.id)
		if err != nil {
			t.Fatalf("%s: %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("%s plan=%s, want %s", tc.id, got, tc.want)
		}
	}

	_, err := b.PlanForSubscription(ctx, "sub_unmapped")
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Code != "unknown_price" || ce.Param != "stripe_subscription_id" {
		t.Fatalf("unmapped err=%v, want unknown_price", err)
	}
}

func TestPlanForSubscription_Errors(t *testing.T) {
	f := &fakeSubscriptions{subs: map[string]*stripe.Subscription{
		"sub_canceled": subscription(stripe.SubscriptionStatusCanceled, &stripe.Price{ID: "price_pro"}),
	}}
	b := newTestBilling(f)
	ctx := context.Background()

	if _, err := b.PlanForSubscription(ctx, "sub_missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("missing err=%v, want ErrNotFound", err)
	}

	_, err := b.PlanForSubscription(ctx, "sub_canceled")
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrPermission || ce.Code != "subscription_inactive" {
		t.Fatalf("canceled err=%v, want subscription_inactive", err)
	}

	if _, err := b.PlanForSubscription(ctx, "  "); err == nil {
		t.Fatalf("expected error for blank id")
	}
	calls := f.calls

	f.err = errors.New("connection reset")
	_, err = b.PlanForSubscription(ctx, "sub_canceled")
	if !errors.As(err, &ce) || ce.Type != core.ErrAPI {
		t.Fatalf("transport err=%v, want api error", err)
	}
	if f.calls != calls+1 {
		t.Fatalf("calls=%d, want %d", f.calls, calls+1)
	}
}
