package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Vehicle holds the structure for the vehicle collection in mongo
type Vehicle struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details VehicleDetails     `json:"vehicle" bson:"vehicle"`
	Version int32              `json:"__v" bson:"__v"`
}

// VehicleDetails holds the structure for the inner vehicle structure as
// defined in the vehicle collection in mongo.
//
// DriverID, when set, must reference a user with role=driver whose
// assignedVehicleId points back at this vehicle. Available=false means the
// vehicle is attached to an active (non-terminal) booking.
type VehicleDetails struct {
	Name           string      `json:"name" bson:"name"`
	Type           string      `json:"type" bson:"type"`
	Capacity       float64     `json:"capacity" bson:"capacity"`
	PricePerKm     float64     `json:"pricePerKm" bson:"pricePerKm"`
	Available      bool        `json:"available" bson:"available"`
	DriverID       string      `json:"driverId" bson:"driverId"`
	Specifications string      `json:"specifications" bson:"specifications"`
	ImageURL       string      `json:"imageUrl" bson:"imageUrl"`
	CreatedAt      interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt      interface{} `json:"updatedAt" bson:"updatedAt"`
}
