// README: Outbound notification payloads.
package notify

import "time"

// OrderEventMessage is the JSON body published for every applied transition.
type OrderEventMessage struct {
	OrderCode     string    `json:"order_code"`
	FromStatus    string    `json:"from_status,omitempty"`
	ToStatus      string    `json:"to_status"`
	DriverCode    string    `json:"driver_code,omitempty"`
	CustomerPhone string    `json:"customer_phone"`
	ActorType     string    `json:"actor_type"`
	ActorID       string    `json:"actor_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	Total         int64     `json:"total"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// driverTopic is the FCM topic a driver's device subscribes to.
func driverTopic(code string) string {
	return "driver-" + code
}
