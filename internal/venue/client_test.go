package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

func testClient(dryRun bool) *Client {
	cfg := Config{BaseURL: "https://example.invalid", DryRun: dryRun, RateLimitRPS: 100, RateLimitBurst: 100}
	return New(zap.NewNop(), cfg, Signer{}, nil, nil)
}

func TestDryRunMarketOrderNeverHitsNetwork(t *testing.T) {
	c := testClient(true)
	order, err := c.PlaceMarketOrder(context.Background(), "BTC/USD", types.OrderSideBuy, decimal.NewFromInt(1), false)
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if !isDryRunID(order.ID) {
		t.Fatalf("expected a dry_run-prefixed order id, got %q", order.ID)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected dry-run market orders to fill immediately, got %v", order.Status)
	}
}

func TestDryRunTriggerOrderAndCancelRoundTrip(t *testing.T) {
	c := testClient(true)
	orderID, err := c.PlaceTriggerOrder(context.Background(), "BTC/USD", types.PositionSideLong, decimal.NewFromInt(95), "sl")
	if err != nil {
		t.Fatalf("PlaceTriggerOrder: %v", err)
	}
	if !isDryRunID(orderID) {
		t.Fatalf("expected dry-run order id, got %q", orderID)
	}
	if err := c.CancelOrder(context.Background(), orderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestDryRunGetPositionsAndBalanceAreEmpty(t *testing.T) {
	c := testClient(true)
	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions in dry-run mode, got %d", len(positions))
	}
	bal, err := c.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("GetAccountBalance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("expected zero balance in dry-run mode, got %s", bal)
	}
}

type fakeCredentialStore struct {
	creds []types.Credential
}

func (f *fakeCredentialStore) ActiveCredentials(ctx context.Context) ([]types.Credential, error) {
	return f.creds, nil
}

func TestSubaccountManagerRoundRobinsAndLeasesExclusively(t *testing.T) {
	store := &fakeCredentialStore{creds: []types.Credential{
		{ID: "c1", SubaccountID: "sub-a", IsActive: true},
		{ID: "c2", SubaccountID: "sub-b", IsActive: true},
	}}
	mgr, err := NewSubaccountManager(context.Background(), store)
	if err != nil {
		t.Fatalf("NewSubaccountManager: %v", err)
	}

	first, err := mgr.Acquire("strategy-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := mgr.Acquire("strategy-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.SubaccountID == second.SubaccountID {
		t.Fatal("expected two distinct owners to be assigned distinct subaccounts")
	}

	if _, err := mgr.Acquire("strategy-3"); err == nil {
		t.Fatal("expected an error when every subaccount is already leased")
	}

	mgr.Release(first.SubaccountID, "strategy-1")
	third, err := mgr.Acquire("strategy-3")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if third.SubaccountID != first.SubaccountID {
		t.Fatalf("expected the released subaccount to be reassigned, got %s", third.SubaccountID)
	}
}
