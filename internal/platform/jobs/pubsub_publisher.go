package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/phonemart/api/internal/services"
)

// PubSubEventPublisher publishes stock and order lifecycle events to Pub/Sub topics.
type PubSubEventPublisher struct {
	stockTopic *pubsub.Topic
	orderTopic *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Either
// topic may be nil, in which case the corresponding events are dropped.
func NewPubSubEventPublisher(stockTopic, orderTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if stockTopic == nil && orderTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		stockTopic: stockTopic,
		orderTopic: orderTopic,
		marshal:    json.Marshal,
	}, nil
}

// PublishStockEvent enqueues a stock adjustment event on the stock topic.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, message services.StockEventMessage) (string, error) {
	if p == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if p.stockTopic == nil {
		return "", nil
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "productId", message.ProductID)
	setAttr(attrs, "reason", message.Reason)
	setAttr(attrs, "actorId", message.ActorID)
	if message.LowStock {
		attrs["lowStock"] = strconv.FormatBool(message.LowStock)
	}

	result := p.stockTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish stock event: %w", err)
	}
	return id, nil
}

// PublishOrderEvent enqueues an order lifecycle event on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, message services.OrderEventMessage) (string, error) {
	if p == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if p.orderTopic == nil {
		return "", nil
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "customerId", message.CustomerID)
	setAttr(attrs, "status", string(message.Status))

	result := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
