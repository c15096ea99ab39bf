package models

// ErrorMessageResponse returns the error message response struct
type ErrorMessageResponse struct {
	Response MessageError
}

// MessageError contains the inner details for the error message response
type MessageError struct {
	Message string
	Error   string
}

// ErrorResponse is the envelope used by the auth and payment surfaces, which
// report a machine-readable code alongside the message.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// HealthCheckResponse reports liveness for the load balancer probe.
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
