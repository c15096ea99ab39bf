// Package docs SwiftHaul Logistics API.
//
// Documentation of SwiftHaul Logistics API.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//     Host: https://logistics-api.swifthaul.app
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - basic
//
//    SecurityDefinitions:
//    basic:
//      type: basic
//
// swagger:meta
package docs

import (
	"github.com/swifthaul/logistics-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route GET /api/v1/vehicle/{vehicle_id}/location location vehicleLocationByID
// Gets the latest reported location for a vehicle.
// responses:
//   200: vehicleLocationResponse

// Shows the latest location report for the given {vehicle_id}
// swagger:response vehicleLocationResponse
type vehicleLocationResponseWrapper struct {
	// in:body
	Body models.VehicleLocation
}

// swagger:route GET /api/v1/vehicle/{vehicle_id} vehicle vehicleByID
// Gets a single vehicle by ID.
// responses:
//   200: vehicleByIDResponse

// Shows a single vehicle by the given {vehicle_id}
// swagger:response vehicleByIDResponse
type vehicleByIDResponseWrapper struct {
	// in:body
	Body models.Vehicle
}
