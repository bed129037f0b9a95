package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/platform/pagination"
	"github.com/deckforge/api/internal/repositories"
)

func newOrder(id, userID, txID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		UserID:        userID,
		TransactionID: txID,
		Items:         []domain.OrderItem{{BoxID: "box", DeckQuantity: 1, CardsPerDeck: 54, MaterialFinish: "linen", CardStock: "std", BoxType: "tuck"}},
		Status:        domain.OrderStatusPendingApproval,
		StatusHistory: []domain.OrderStatusEvent{{Status: domain.OrderStatusPendingApproval, Date: createdAt}},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestOrderRepositoryRejectsDuplicateTransaction(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Now()

	if err := repo.Insert(ctx, newOrder("#ORD-2026-00001", "u1", "pi_1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repo.Insert(ctx, newOrder("#ORD-2026-00002", "u2", "pi_1", now))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "#ORD-2026-00002"); err == nil {
		t.Fatalf("expected rejected order to be absent")
	}
}

func TestOrderRepositoryListPaginatesNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("#ORD-2026-%05d", i)
		if err := repo.Insert(ctx, newOrder(id, "u1", "tx-"+id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := repo.Insert(ctx, newOrder("#ORD-2026-00099", "other", "tx-other", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var seen []string
	token := ""
	for {
		page, err := repo.List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2, PageToken: token}})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, order := range page.Items {
			seen = append(seen, order.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	want := []string{"#ORD-2026-00005", "#ORD-2026-00004", "#ORD-2026-00003", "#ORD-2026-00002", "#ORD-2026-00001"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
}

func TestOrderRepositoryListRejectsTokenFromOtherFilter(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("#ORD-2026-%05d", i)
		if err := repo.Insert(ctx, newOrder(id, "u1", "tx-"+id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 1}})
	if err != nil || page.NextPageToken == "" {
		t.Fatalf("expected a next page, got %+v (%v)", page, err)
	}
	_, err = repo.List(ctx, repositories.OrderListFilter{UserID: "u2", Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	if !errors.Is(err, pagination.ErrInvalidPageToken) {
		t.Fatalf("expected token from another user to be rejected, got %v", err)
	}
}

func TestOrderRepositoryApplyStatusChangeChecksExpectations(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Now()
	if err := repo.Insert(ctx, newOrder("#ORD-2026-00001", "u1", "pi_1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	change := repositories.OrderStatusChange{
		OrderID:        "#ORD-2026-00001",
		ExpectedStatus: domain.OrderStatusPrinting,
		Status:         domain.OrderStatusShipped,
		Event:          domain.OrderStatusEvent{Status: domain.OrderStatusShipped, Date: now},
		TrackingNumber: "JD0001",
	}
	if _, err := repo.ApplyStatusChange(ctx, change); err == nil {
		t.Fatalf("expected stale status to conflict")
	}

	change.ExpectedStatus = domain.OrderStatusPendingApproval
	change.Status = domain.OrderStatusProcessing
	change.TrackingNumber = ""
	updated, err := repo.ApplyStatusChange(ctx, change)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing || len(updated.StatusHistory) != 2 {
		t.Fatalf("unexpected order %+v", updated)
	}

	if _, err := repo.SetPrintable(ctx, "#ORD-2026-00404", "gs://x", now); err == nil {
		t.Fatalf("expected not found for unknown order")
	}
}

func TestOrderRepositoryShipmentClaim(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Insert(ctx, newOrder("#ORD-2026-00001", "u1", "pi_1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	claim := func(token string, at time.Time) error {
		_, err := repo.ClaimShipment(ctx, repositories.ShipmentClaimRequest{
			OrderID:        "#ORD-2026-00001",
			ExpectedStatus: domain.OrderStatusPendingApproval,
			Token:          token,
			Now:            at,
			ExpiresAt:      at.Add(time.Minute),
		})
		return err
	}
	isConflict := func(err error) bool {
		var repoErr repositories.RepositoryError
		return errors.As(err, &repoErr) && repoErr.IsConflict()
	}

	if err := claim("a", now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim("b", now.Add(time.Second)); !isConflict(err) {
		t.Fatalf("expected live claim to block a second caller, got %v", err)
	}

	unclaimed := repositories.OrderStatusChange{
		OrderID:        "#ORD-2026-00001",
		ExpectedStatus: domain.OrderStatusPendingApproval,
		Status:         domain.OrderStatusProcessing,
		Event:          domain.OrderStatusEvent{Status: domain.OrderStatusProcessing, Date: now},
		UpdatedAt:      now,
	}
	if _, err := repo.ApplyStatusChange(ctx, unclaimed); !isConflict(err) {
		t.Fatalf("expected change without the claim token to conflict, got %v", err)
	}
	stolen := unclaimed
	stolen.ClaimToken = "b"
	if _, err := repo.ApplyStatusChange(ctx, stolen); !isConflict(err) {
		t.Fatalf("expected change with a foreign token to conflict, got %v", err)
	}

	if err := repo.ReleaseShipment(ctx, "#ORD-2026-00001", "b"); err != nil {
		t.Fatalf("release foreign token: %v", err)
	}
	if err := claim("b", now.Add(time.Second)); !isConflict(err) {
		t.Fatalf("releasing with a foreign token must keep the claim, got %v", err)
	}

	if err := claim("c", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("expected expired claim to be taken over: %v", err)
	}
	owned := unclaimed
	owned.ClaimToken = "c"
	owned.UpdatedAt = now.Add(2 * time.Minute)
	updated, err := repo.ApplyStatusChange(ctx, owned)
	if err != nil {
		t.Fatalf("apply with claim: %v", err)
	}
	if updated.ShipmentClaim.Token != "" || updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected claim cleared after the change, got %+v", updated)
	}

	if _, err := repo.ClaimShipment(ctx, repositories.ShipmentClaimRequest{OrderID: "#ORD-2026-00404"}); err == nil {
		t.Fatalf("expected not found for unknown order")
	}
}
