package models

// Location sources. GPS readings come from the device geolocation provider,
// IP readings from the server-side IP-geolocation fallback chain.
const (
	LocationSourceGPS = "gps"
	LocationSourceIP  = "ip"
)

// VehicleLocation is the single live location record per vehicle, keyed by
// the vehicle ID and overwritten in place. No history is retained. The field
// names are shared dictionary keys with the client apps and must not change.
type VehicleLocation struct {
	ID         string  `json:"_id" bson:"_id"`
	VehicleID  string  `json:"vehicleId" bson:"vehicleId"`
	TrackingID string  `json:"trackingId" bson:"trackingId"`
	Lat        float64 `json:"lat" bson:"lat"`
	Lng        float64 `json:"lng" bson:"lng"`
	Timestamp  int64   `json:"timestamp" bson:"timestamp"`
	Source     string  `json:"source" bson:"source"`
	UpdatedBy  string  `json:"updatedBy" bson:"updatedBy"`
}

// TrackingIdentity maps a vehicle to its stable short tracking code. One per
// vehicle, created lazily and immutable after creation.
type TrackingIdentity struct {
	ID         string `json:"_id" bson:"_id"`
	VehicleID  string `json:"vehicleId" bson:"vehicleId"`
	TrackingID string `json:"trackingId" bson:"trackingId"`
	CreatedAt  int64  `json:"createdAt" bson:"createdAt"`
	CreatedBy  string `json:"createdBy" bson:"createdBy"`
}
