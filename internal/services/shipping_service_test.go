package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phonemart/api/internal/domain"
)

func TestKeywordRegionClassifier(t *testing.T) {
	classifier := KeywordRegionClassifier{}

	cases := []struct {
		address string
		want    domain.RegionTier
	}{
		{"12 Hàng Bài, Quận Hoàn Kiếm, Hà Nội", domain.RegionUrban},
		{"45 Nguyễn Huệ, Quận 1, TP.HCM", domain.RegionUrban},
		{"Đường 2/9, Đà Nẵng", domain.RegionUrban},
		{"Thôn 3, Huyện Đông Anh", domain.RegionSuburban},
		{"Thị xã Sơn Tây", domain.RegionSuburban},
		{"Bản Tả Van, Lào Cai", domain.RegionRemote},
		{"", domain.RegionRemote},
	}
	for _, tc := range cases {
		if got := classifier.Classify(tc.address); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.address, got, tc.want)
		}
	}
}

func TestShippingServiceEstimate(t *testing.T) {
	now := time.Date(2025, time.May, 2, 8, 0, 0, 0, time.UTC)
	svc, err := NewShippingService(ShippingServiceDeps{
		Orders: &stubOrderRepository{},
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("urban ghn", func(t *testing.T) {
		estimate, err := svc.Estimate(context.Background(), "Hoàn Kiếm, Hà Nội", domain.CarrierGHN)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if estimate.Region != domain.RegionUrban || estimate.Fee != 25000 || estimate.LeadDays != 1 {
			t.Fatalf("unexpected estimate: %+v", estimate)
		}
		if want := now.AddDate(0, 0, 1); !estimate.EstimatedDelivery.Equal(want) {
			t.Fatalf("expected delivery %v, got %v", want, estimate.EstimatedDelivery)
		}
	})

	t.Run("remote vnpost", func(t *testing.T) {
		estimate, err := svc.Estimate(context.Background(), "Bản Tả Van, Lào Cai", domain.CarrierVNPost)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if estimate.Region != domain.RegionRemote || estimate.Fee != 55000 || estimate.LeadDays != 4 {
			t.Fatalf("unexpected estimate: %+v", estimate)
		}
	})

	t.Run("carrier case folding", func(t *testing.T) {
		estimate, err := svc.Estimate(context.Background(), "Hà Nội", domain.Carrier("ghtk"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if estimate.Carrier != domain.CarrierGHTK || estimate.Fee != 20000 {
			t.Fatalf("unexpected estimate: %+v", estimate)
		}
	})

	t.Run("unknown carrier", func(t *testing.T) {
		if _, err := svc.Estimate(context.Background(), "Hà Nội", domain.Carrier("DHL")); !errors.Is(err, ErrShippingInvalidCarrier) {
			t.Fatalf("expected ErrShippingInvalidCarrier, got %v", err)
		}
	})

	t.Run("blank address", func(t *testing.T) {
		if _, err := svc.Estimate(context.Background(), "  ", domain.CarrierGHN); !errors.Is(err, ErrShippingInvalidInput) {
			t.Fatalf("expected ErrShippingInvalidInput, got %v", err)
		}
	})
}

func TestShippingServiceCreate(t *testing.T) {
	now := time.Date(2025, time.May, 2, 8, 0, 0, 0, time.UTC)
	staff := Actor{UserID: "usr_staff", Role: domain.RoleStaff}

	t.Run("forbidden for customers", func(t *testing.T) {
		svc, _ := NewShippingService(ShippingServiceDeps{Orders: &stubOrderRepository{}})
		_, err := svc.Create(context.Background(), Actor{UserID: "usr_001", Role: domain.RoleCustomer}, ShippingCreateCommand{OrderID: "ord_001"})
		if !errors.Is(err, ErrShippingForbidden) {
			t.Fatalf("expected ErrShippingForbidden, got %v", err)
		}
	})

	t.Run("rejects existing record", func(t *testing.T) {
		repo := &stubOrderRepository{
			findOrder: domain.Order{ID: "ord_001", Shipping: &domain.ShippingInfo{OrderID: "ord_001"}},
		}
		svc, _ := NewShippingService(ShippingServiceDeps{Orders: repo})
		_, err := svc.Create(context.Background(), staff, ShippingCreateCommand{OrderID: "ord_001", Carrier: domain.CarrierGHN, Address: "Hà Nội"})
		if !errors.Is(err, ErrShippingExists) {
			t.Fatalf("expected ErrShippingExists, got %v", err)
		}
	})

	t.Run("attaches record and ships the order", func(t *testing.T) {
		repo := &stubOrderRepository{
			findOrder: domain.Order{ID: "ord_001", CustomerID: "usr_001", Status: domain.OrderStatusConfirmed},
		}
		events := &stubEventPublisher{}
		svc, _ := NewShippingService(ShippingServiceDeps{
			Orders: repo,
			Events: events,
			Clock:  func() time.Time { return now },
		})

		shipping, err := svc.Create(context.Background(), staff, ShippingCreateCommand{
			OrderID:     "ord_001",
			Carrier:     domain.CarrierGHN,
			Address:     "Hoàn Kiếm, Hà Nội",
			PhoneNumber: "0901234567",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if shipping.Fee != 25000 {
			t.Fatalf("expected urban GHN fee 25000, got %d", shipping.Fee)
		}
		if repo.putShippingStatus != domain.OrderStatusShipped {
			t.Fatalf("expected order forced to SHIPPED, got %s", repo.putShippingStatus)
		}
		if repo.putShipping.OrderID != "ord_001" || repo.putShipping.PhoneNumber != "0901234567" {
			t.Fatalf("unexpected stored shipping: %+v", repo.putShipping)
		}
		if len(events.orderEvents) != 1 || events.orderEvents[0].Status != domain.OrderStatusShipped {
			t.Fatalf("expected shipped event, got %+v", events.orderEvents)
		}
	})
}

func TestShippingServiceUpdate(t *testing.T) {
	staff := Actor{UserID: "usr_staff", Role: domain.RoleStaff}
	eta := time.Date(2025, time.May, 6, 0, 0, 0, 0, time.UTC)

	repo := &stubOrderRepository{
		findOrder: domain.Order{
			ID:     "ord_001",
			Status: domain.OrderStatusShipped,
			Shipping: &domain.ShippingInfo{
				OrderID: "ord_001",
				Carrier: domain.CarrierGHN,
				Address: "Hà Nội",
			},
		},
	}
	svc, _ := NewShippingService(ShippingServiceDeps{Orders: repo})

	shipping, err := svc.Update(context.Background(), staff, ShippingUpdateCommand{
		OrderID:           "ord_001",
		Carrier:           domain.CarrierGHTK,
		TrackingNumber:    "GHTK123",
		EstimatedDelivery: &eta,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shipping.Carrier != domain.CarrierGHTK || shipping.TrackingNumber != "GHTK123" {
		t.Fatalf("unexpected shipping: %+v", shipping)
	}
	if !shipping.EstimatedDelivery.Equal(eta) {
		t.Fatalf("expected eta %v, got %v", eta, shipping.EstimatedDelivery)
	}
	// The order keeps its current status on edits.
	if repo.putShippingStatus != domain.OrderStatusShipped {
		t.Fatalf("expected status preserved, got %s", repo.putShippingStatus)
	}
}

func TestShippingServiceDelete(t *testing.T) {
	staff := Actor{UserID: "usr_staff", Role: domain.RoleStaff}
	now := time.Date(2025, time.May, 2, 8, 0, 0, 0, time.UTC)

	repo := &stubOrderRepository{
		findOrder: domain.Order{
			ID:         "ord_001",
			CustomerID: "usr_001",
			Status:     domain.OrderStatusShipped,
			Shipping:   &domain.ShippingInfo{OrderID: "ord_001"},
		},
	}
	events := &stubEventPublisher{}
	svc, _ := NewShippingService(ShippingServiceDeps{Orders: repo, Events: events, Clock: func() time.Time { return now }})

	if err := svc.Delete(context.Background(), staff, "ord_001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.deleteShippingID != "ord_001" || repo.deleteShippingStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected cancellation through deletion, got %q %s", repo.deleteShippingID, repo.deleteShippingStatus)
	}
	if len(events.orderEvents) != 1 || events.orderEvents[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled event, got %+v", events.orderEvents)
	}
}

func TestShippingServiceGetByOrder(t *testing.T) {
	repo := &stubOrderRepository{
		findOrder: domain.Order{
			ID:         "ord_001",
			CustomerID: "usr_001",
			Shipping:   &domain.ShippingInfo{OrderID: "ord_001", Carrier: domain.CarrierGHN},
		},
	}
	svc, _ := NewShippingService(ShippingServiceDeps{Orders: repo})

	t.Run("owner may read", func(t *testing.T) {
		shipping, err := svc.GetByOrder(context.Background(), Actor{UserID: "usr_001", Role: domain.RoleCustomer}, "ord_001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if shipping.Carrier != domain.CarrierGHN {
			t.Fatalf("unexpected shipping: %+v", shipping)
		}
	})

	t.Run("other customers may not", func(t *testing.T) {
		_, err := svc.GetByOrder(context.Background(), Actor{UserID: "usr_002", Role: domain.RoleCustomer}, "ord_001")
		if !errors.Is(err, ErrShippingForbidden) {
			t.Fatalf("expected ErrShippingForbidden, got %v", err)
		}
	})
}
