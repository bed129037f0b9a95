package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/services"
)

func newTestTopic(t *testing.T, srv *pstest.Server) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	topic := newTestTopic(t, srv)
	topic.EnableMessageOrdering = true

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Close()

	event := services.OrderEvent{
		Type:           services.OrderEventShipped,
		OrderID:        "#ORD-2026-00007",
		UserID:         "user-1",
		Status:         domain.OrderStatusShipped,
		PreviousStatus: domain.OrderStatusPrinting,
		TrackingNumber: "1234567890",
		OccurredAt:     time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != services.OrderEventShipped || attrs["trackingNumber"] != "1234567890" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if messages[0].OrderingKey != event.OrderID {
		t.Fatalf("expected ordering key %q, got %q", event.OrderID, messages[0].OrderingKey)
	}
}

func TestPubSubOrderEventPublisherOmitsEmptyAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	publisher, err := NewPubSubOrderEventPublisher(newTestTopic(t, srv))
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Close()

	if _, err := publisher.PublishOrderEvent(ctx, services.OrderEvent{
		Type:    services.OrderEventCreated,
		OrderID: "#ORD-2026-00008",
		Status:  domain.OrderStatusPendingApproval,
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["trackingNumber"]; ok {
		t.Fatalf("tracking number attribute should not be present: %v", attrs)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
