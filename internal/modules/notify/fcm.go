// README: Firebase Cloud Messaging push to drivers on assignment.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/order"
)

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCM struct {
	client MessageSender
}

func NewFCM(client MessageSender) *FCM {
	return &FCM{client: client}
}

// DriverAssigned sends a high-priority data message to the driver's topic.
func (f *FCM) DriverAssigned(ctx context.Context, d driver.Driver, o order.Order, distanceKm float64) error {
	data := map[string]string{
		"type":        "order_assigned",
		"order_code":  string(o.Code),
		"status":      string(o.Status),
		"origin_lat":  strconv.FormatFloat(o.Origin.Lat, 'f', 6, 64),
		"origin_lng":  strconv.FormatFloat(o.Origin.Lng, 'f', 6, 64),
		"distance_km": strconv.FormatFloat(distanceKm, 'f', 2, 64),
		"total":       o.Total.String(),
	}
	if o.Destination != nil {
		data["dest_lat"] = strconv.FormatFloat(o.Destination.Lat, 'f', 6, 64)
		data["dest_lng"] = strconv.FormatFloat(o.Destination.Lng, 'f', 6, 64)
	}

	msg := &messaging.Message{
		Topic: driverTopic(string(d.Code)),
		Data:  data,
		Notification: &messaging.Notification{
			Title: "New order " + string(o.Code),
			Body:  fmt.Sprintf("Pickup %.2f km away, total %s", distanceKm, o.Total),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to driver %s: %w", d.Code, err)
	}
	log.Printf("notify: FCM sent for order %s to %s, message_id=%s", o.Code, d.Code, messageID)
	return nil
}
