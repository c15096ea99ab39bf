package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Shipment states. Shipments begin where their source booking ended, so a
// fresh conversion starts in created and advances as the carrier reports
// progress.
const (
	ShipmentStatusCreated   = "created"
	ShipmentStatusInTransit = "in_transit"
	ShipmentStatusDelivered = "delivered"
)

// Shipment holds the structure for the shipment collection in mongo
type Shipment struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details ShipmentDetails    `json:"shipment" bson:"shipment"`
	Version int32              `json:"__v" bson:"__v"`
}

// ShipmentDetails holds the structure for the inner shipment structure as
// defined in the shipment collection in mongo. TrackingID is copied from the
// vehicle's tracking identity at conversion time so the public tracking page
// can join a shipment to the vehicle's live location record.
type ShipmentDetails struct {
	BookingID     string      `json:"bookingId" bson:"bookingId"`
	VehicleID     string      `json:"vehicleId" bson:"vehicleId"`
	DriverID      string      `json:"driverId" bson:"driverId"`
	CustomerID    string      `json:"customerId" bson:"customerId"`
	TrackingID    string      `json:"trackingId" bson:"trackingId"`
	Status        string      `json:"status" bson:"status"`
	PickupAddress string      `json:"pickupAddress" bson:"pickupAddress"`
	DropAddress   string      `json:"dropAddress" bson:"dropAddress"`
	PodImageURL   string      `json:"podImageUrl" bson:"podImageUrl"`
	CreatedAt     interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt     interface{} `json:"updatedAt" bson:"updatedAt"`
}
