package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Roles a user account may hold. Role gates every privileged route and the
// assignment protocol rejects non-driver users as vehicle drivers.
const (
	RoleAdmin    = "admin"
	RoleDriver   = "driver"
	RoleCustomer = "customer"
)

// User holds the structure for the user collection in mongo
type User struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details UserDetails        `json:"user" bson:"user"`
	Version int32              `json:"__v" bson:"__v"`
}

// UserDetails holds the structure for the inner user structure as defined in the user collection in mongo
type UserDetails struct {
	Name              string      `json:"name" bson:"name"`
	Email             string      `json:"email" bson:"email"`
	Password          string      `json:"password" bson:"password"`
	Role              string      `json:"role" bson:"role"`
	Phone             string      `json:"phone" bson:"phone"`
	AssignedVehicleID string      `json:"assignedVehicleId" bson:"assignedVehicleId"`
	ProfilePicture    string      `json:"profilePicture" bson:"profilePicture"`
	Active            bool        `json:"active" bson:"active"`
	CreatedAt         interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt         interface{} `json:"updatedAt" bson:"updatedAt"`
}

// IsDriver reports whether the account carries the driver role.
func (u *User) IsDriver() bool {
	return u.Details.Role == RoleDriver
}
