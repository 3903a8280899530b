package events

import (
	"encoding/json"
	"fmt"
)

// Domain event type codes. Variants are a closed set selected by type;
// new variants are added here, not via inheritance chains.
const (
	TypeUserCreated        = "USER_CREATED"
	TypeUserUpdated        = "USER_UPDATED"
	TypeOrderCreated       = "ORDER_CREATED"
	TypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	TypePaymentProcessed   = "PAYMENT_PROCESSED"
	TypeProductUpdated     = "PRODUCT_UPDATED"
)

// DeadLetterSuffix is appended to the original type of a failed event.
const DeadLetterSuffix = "_DEAD_LETTER"

// UserEvent carries a user id plus a partial snapshot of user data.
type UserEvent struct {
	BaseEvent
	UserID string                 `json:"userId"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

func NewUserEvent(eventType, source, userID string, data map[string]interface{}) UserEvent {
	return UserEvent{
		BaseEvent: NewBaseEvent(eventType, source),
		UserID:    userID,
		Data:      data,
	}
}

// OrderEvent carries an order id, the acting user and order data.
type OrderEvent struct {
	BaseEvent
	OrderID string                 `json:"orderId"`
	UserID  string                 `json:"userId,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func NewOrderEvent(eventType, source, orderID, userID string, data map[string]interface{}) OrderEvent {
	return OrderEvent{
		BaseEvent: NewBaseEvent(eventType, source),
		OrderID:   orderID,
		UserID:    userID,
		Data:      data,
	}
}

// PaymentEvent carries a payment id and the order it settles.
type PaymentEvent struct {
	BaseEvent
	PaymentID string                 `json:"paymentId"`
	OrderID   string                 `json:"orderId,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func NewPaymentEvent(eventType, source, paymentID, orderID string, data map[string]interface{}) PaymentEvent {
	return PaymentEvent{
		BaseEvent: NewBaseEvent(eventType, source),
		PaymentID: paymentID,
		OrderID:   orderID,
		Data:      data,
	}
}

// ProductEvent carries a product id plus changed fields.
type ProductEvent struct {
	BaseEvent
	ProductID string                 `json:"productId"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func NewProductEvent(eventType, source, productID string, data map[string]interface{}) ProductEvent {
	return ProductEvent{
		BaseEvent: NewBaseEvent(eventType, source),
		ProductID: productID,
		Data:      data,
	}
}

// ErrorDetail embeds the failure that produced a dead letter.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// DeadLetterEvent is the synthetic record published when processing of an
// event exhausts its retries. It always carries the id of the failed event
// and a type of `<originalType>_DEAD_LETTER`.
type DeadLetterEvent struct {
	BaseEvent
	OriginalEventID string          `json:"originalEventId"`
	OriginalEvent   json.RawMessage `json:"originalEvent,omitempty"`
	Error           ErrorDetail     `json:"error"`
}

// NewDeadLetterEvent derives a dead letter from the failed event. raw is the
// original wire payload and may be nil; err must not be nil.
func NewDeadLetterEvent(original Event, raw []byte, source string, err error) DeadLetterEvent {
	return DeadLetterEvent{
		BaseEvent:       NewBaseEvent(original.EventType()+DeadLetterSuffix, source),
		OriginalEventID: original.EventID(),
		OriginalEvent:   json.RawMessage(raw),
		Error: ErrorDetail{
			Message: err.Error(),
			Stack:   fmt.Sprintf("%+v", err),
		},
	}
}
