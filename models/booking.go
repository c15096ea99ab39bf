package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Booking lifecycle states. A booking is created in pending_payment and the
// referenced vehicle is marked unavailable at the same moment. Payment
// verification moves it to pending; the assigned driver owns the
// pending -> in_progress -> completed path; completed and cancelled restore
// vehicle availability. converted is terminal and only reachable from
// completed via the booking -> shipment migration.
const (
	BookingStatusPendingPayment = "pending_payment"
	BookingStatusPending        = "pending"
	BookingStatusInProgress     = "in_progress"
	BookingStatusCompleted      = "completed"
	BookingStatusCancelled      = "cancelled"
	BookingStatusConverted      = "converted"
)

// Payment states tracked alongside the booking status.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Booking holds the structure for the booking collection in mongo
type Booking struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details BookingDetails     `json:"booking" bson:"booking"`
	Version int32              `json:"__v" bson:"__v"`
}

// BookingDetails holds the structure for the inner booking structure as
// defined in the booking collection in mongo
type BookingDetails struct {
	VehicleID       string      `json:"vehicleId" bson:"vehicleId"`
	DriverID        string      `json:"driverId" bson:"driverId"`
	CustomerID      string      `json:"customerId" bson:"customerId"`
	Status          string      `json:"status" bson:"status"`
	PaymentStatus   string      `json:"paymentStatus" bson:"paymentStatus"`
	Amount          float64     `json:"amount" bson:"amount"`
	PickupAddress   string      `json:"pickupAddress" bson:"pickupAddress"`
	DropAddress     string      `json:"dropAddress" bson:"dropAddress"`
	PickupLat       float64     `json:"pickupLat" bson:"pickupLat"`
	PickupLng       float64     `json:"pickupLng" bson:"pickupLng"`
	DropLat         float64     `json:"dropLat" bson:"dropLat"`
	DropLng         float64     `json:"dropLng" bson:"dropLng"`
	DistanceKm      float64     `json:"distanceKm" bson:"distanceKm"`
	StripeSessionID string      `json:"stripeSessionId" bson:"stripeSessionId"`
	CreatedAt       interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt       interface{} `json:"updatedAt" bson:"updatedAt"`
}

// Terminal reports whether the booking can no longer change state. Terminal
// bookings have already released their vehicle.
func (b *Booking) Terminal() bool {
	switch b.Details.Status {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusConverted:
		return true
	}
	return false
}
