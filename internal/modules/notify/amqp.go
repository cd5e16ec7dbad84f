// README: RabbitMQ publisher for order lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"speedyfood/internal/modules/order"
)

// Channel is satisfied by *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQP struct {
	ch       Channel
	exchange string
}

func NewAMQP(ch Channel, exchange string) *AMQP {
	return &AMQP{ch: ch, exchange: exchange}
}

// PublishOrderEvent routes the event as order.<to_status> on the topic exchange.
func (a *AMQP) PublishOrderEvent(ctx context.Context, o *order.Order, e order.Event) error {
	msg := OrderEventMessage{
		OrderCode:     string(e.OrderCode),
		FromStatus:    string(e.FromStatus),
		ToStatus:      string(e.ToStatus),
		CustomerPhone: o.CustomerPhone,
		ActorType:     string(e.ActorType),
		Note:          e.Note,
		Total:         o.Total.Amount,
		Currency:      o.Total.Currency,
		OccurredAt:    e.CreatedAt.UTC(),
	}
	if o.DriverCode != nil {
		msg.DriverCode = string(*o.DriverCode)
	}
	if e.ActorID != nil {
		msg.ActorID = string(*e.ActorID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	key := routingKey(e.ToStatus)
	if err := a.ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func routingKey(s order.Status) string {
	return "order." + strings.ToLower(string(s))
}
