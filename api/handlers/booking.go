package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

// Booking exported for testing purposes
type Booking struct {
	DB          databases.BookingDatabase
	Coordinator *dispatch.Coordinator
	Shipments   databases.ShipmentDatabase
	Resolver    *tracking.Resolver
	Users       databases.UserDatabase
}

// createBookingRequest carries the customer's booking intent. The fare and
// the driver are derived server side, never taken from the client.
type createBookingRequest struct {
	VehicleID     string  `json:"vehicleId"`
	PickupAddress string  `json:"pickupAddress"`
	DropAddress   string  `json:"dropAddress"`
	PickupLat     float64 `json:"pickupLat"`
	PickupLng     float64 `json:"pickupLng"`
	DropLat       float64 `json:"dropLat"`
	DropLng       float64 `json:"dropLng"`
}

// BookingsHandler returns the bookings visible to the caller: admins see all,
// customers their own, drivers the ones assigned to them
func (b Booking) BookingsHandler(w http.ResponseWriter, r *http.Request) {
	info, err := api.Actor(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)

	filter := bson.M{}
	switch actorRole(info.Groups()) {
	case models.RoleAdmin:
		// admins see every booking
	case models.RoleDriver:
		filter["booking.driverId"] = info.ID()
	default:
		filter["booking.customerId"] = info.ID()
	}

	dbResp, err := b.DB.Find(context.TODO(), filter, &options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get bookings", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements inside models.Booking exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.Booking{}
	}
	bodyBytes, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(bodyBytes)
}

// BookingByIDHandler returns a booking given a bookingID. Only the booking's
// customer, its driver, or an admin may read it.
func (b Booking) BookingByIDHandler(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]

	bID, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := b.DB.FindOne(context.Background(), bson.M{"_id": bID})
	if err != nil {
		config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		return
	}
	if !bookingParticipant(r, dbResp) {
		config.ErrorStatus("cannot access another customer's booking", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}

	bodyBytes, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(bodyBytes)
}

// CreateBookingHandler creates a booking for the authenticated customer. The
// vehicle must be on the market with a driver attached; pricing comes from
// the route distance and the vehicle's rate.
func (b Booking) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.VehicleID == "" || req.PickupAddress == "" || req.DropAddress == "" {
		config.ErrorStatus("vehicleId, pickupAddress and dropAddress are required", http.StatusBadRequest, w, errors.New("missing required fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	booking, err := b.Coordinator.Create(ctx, models.BookingDetails{
		VehicleID:     req.VehicleID,
		CustomerID:    uid,
		PickupAddress: req.PickupAddress,
		DropAddress:   req.DropAddress,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
		DropLat:       req.DropLat,
		DropLng:       req.DropLng,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			config.ErrorStatus("vehicle not found", http.StatusNotFound, w, err)
		case errors.Is(err, dispatch.ErrVehicleUnavailable):
			config.ErrorStatus("vehicle is not available", http.StatusConflict, w, err)
		case errors.Is(err, dispatch.ErrNoDriverAssigned):
			config.ErrorStatus("vehicle has no driver assigned", http.StatusBadRequest, w, err)
		default:
			config.ErrorStatus("failed to create booking", http.StatusInternalServerError, w, err)
		}
		return
	}

	bodyBytes, err := json.Marshal(booking)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(bodyBytes)
}

// CreateCheckoutSessionHandler opens a Stripe Checkout session for a booking
// awaiting payment. The session ID is pinned on the booking so verification
// can refuse session swaps.
func (b Booking) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]

	bID, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	booking, err := b.DB.FindOne(ctx, bson.M{"_id": bID})
	if err != nil {
		config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		return
	}
	if booking.Details.CustomerID != uid {
		config.ErrorStatus("cannot pay for another customer's booking", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}
	if booking.Details.Status != models.BookingStatusPendingPayment {
		config.ErrorStatus("booking is not awaiting payment", http.StatusConflict, w, errors.New("booking status is "+booking.Details.Status))
		return
	}

	// Stripe wants the amount in the currency's smallest unit, paise here.
	unitAmount := int64(math.Round(booking.Details.Amount * 100))
	if unitAmount <= 0 {
		config.ErrorStatus("booking amount must be positive", http.StatusBadRequest, w, errors.New("zero fare"))
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyINR)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("SwiftHaul booking " + bookingID),
						Description: stripe.String(fmt.Sprintf("%s to %s", booking.Details.PickupAddress, booking.Details.DropAddress)),
					},
					UnitAmount: stripe.Int64(unitAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(apiBaseURL() + "/api/v1/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(apiBaseURL() + "/api/v1/payment/cancel"),
		ClientReferenceID: stripe.String(bookingID),
	}

	s, err := session.New(params)
	if err != nil {
		zap.S().Errorw("failed to create stripe checkout session", "bookingId", bookingID, "error", err)
		config.ErrorStatus("failed to create checkout session", http.StatusBadGateway, w, err)
		return
	}

	_, err = b.DB.UpdateOne(ctx, bson.M{"_id": bID}, bson.M{"$set": bson.M{
		"booking.stripeSessionId": s.ID,
		"booking.updatedAt":       primitive.NewDateTimeFromTime(time.Now()),
	}})
	if err != nil {
		zap.S().Errorw("failed to record stripe session on booking", "bookingId", bookingID, "sessionId", s.ID, "error", err)
		config.ErrorStatus("failed to record checkout session", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":       s.URL,
		"sessionId": s.ID,
	})
}

// VerifyPaymentHandler confirms a checkout session against Stripe and settles
// the booking. Paid sessions move the booking to pending; expired sessions
// flag the payment failed so the customer can retry.
func (b Booking) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]

	bID, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	booking, err := b.DB.FindOne(ctx, bson.M{"_id": bID})
	if err != nil {
		config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		return
	}
	if booking.Details.CustomerID != uid {
		config.ErrorStatus("cannot verify another customer's booking", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		config.ErrorStatus("session_id is required", http.StatusBadRequest, w, errors.New("missing session_id"))
		return
	}
	if booking.Details.StripeSessionID == "" || sessionID != booking.Details.StripeSessionID {
		config.ErrorStatus("session does not belong to this booking", http.StatusBadRequest, w, errors.New("session mismatch"))
		return
	}

	// Already settled; verification is idempotent.
	if booking.Details.PaymentStatus == models.PaymentStatusPaid {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":       true,
			"paymentStatus": models.PaymentStatusPaid,
			"status":        booking.Details.Status,
		})
		return
	}

	s, err := session.Get(sessionID, nil)
	if err != nil {
		zap.S().Errorw("failed to retrieve stripe checkout session", "bookingId", bookingID, "sessionId", sessionID, "error", err)
		config.ErrorStatus("failed to retrieve checkout session", http.StatusBadGateway, w, err)
		return
	}

	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		if err := b.Coordinator.MarkPaid(ctx, bookingID); err != nil {
			if errors.Is(err, dispatch.ErrInvalidTransition) {
				config.ErrorStatus("booking is no longer awaiting payment", http.StatusConflict, w, err)
				return
			}
			config.ErrorStatus("failed to record payment", http.StatusInternalServerError, w, err)
			return
		}
		b.notifyCustomer(booking)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":       true,
			"paymentStatus": models.PaymentStatusPaid,
			"status":        models.BookingStatusPending,
		})
	case s.Status == stripe.CheckoutSessionStatusExpired:
		if err := b.Coordinator.MarkPaymentFailed(ctx, bookingID); err != nil {
			zap.S().Errorw("failed to flag expired payment", "bookingId", bookingID, "error", err)
		}
		writeAuthError(w, http.StatusPaymentRequired, "payment_failed", "checkout session expired, create a new one")
	default:
		writeAuthError(w, http.StatusPaymentRequired, "payment_pending", "payment has not completed")
	}
}

// notifyCustomer fires the booking confirmation email without holding up the
// payment response. The request context dies with the handler, so the lookup
// runs on its own.
func (b Booking) notifyCustomer(booking *models.Booking) {
	go func() {
		cID, err := primitive.ObjectIDFromHex(booking.Details.CustomerID)
		if err != nil {
			return
		}
		customer, err := b.Users.FindOne(context.Background(), bson.M{"_id": cID})
		if err != nil || customer.Details.Email == "" {
			zap.S().Warnw("customer lookup failed, skipping booking confirmation",
				"bookingId", booking.ID.Hex(), "customerId", booking.Details.CustomerID, "error", err)
			return
		}
		notifyBookingConfirmed(customer.Details.Email, customer.Details.Name, booking.ID.Hex(),
			booking.Details.PickupAddress, booking.Details.DropAddress, booking.Details.Amount)
	}()
}

// updateBookingStatusRequest carries the driver's lifecycle transition.
type updateBookingStatusRequest struct {
	Status string `json:"status"`
}

// UpdateBookingStatusHandler applies a driver-reported lifecycle transition
// to a booking
func (b Booking) UpdateBookingStatusHandler(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]

	bID, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	var req updateBookingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Status == "" {
		config.ErrorStatus("status is required", http.StatusBadRequest, w, errors.New("missing status"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	booking, err := b.DB.FindOne(ctx, bson.M{"_id": bID})
	if err != nil {
		config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		return
	}
	if booking.Details.DriverID != uid {
		config.ErrorStatus("booking is not assigned to this driver", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}

	updated, err := b.Coordinator.UpdateStatus(ctx, bookingID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		case errors.Is(err, dispatch.ErrInvalidTransition):
			config.ErrorStatus("invalid booking status transition", http.StatusBadRequest, w, err)
		case errors.Is(err, dispatch.ErrConflict):
			config.ErrorStatus("booking was modified concurrently", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to update booking status", http.StatusInternalServerError, w, err)
		}
		return
	}

	bodyBytes, err := json.Marshal(updated)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(bodyBytes)
}

// ConvertBookingHandler retires a completed booking into a shipment carrying
// the vehicle's tracking code, so the delivery stays publicly trackable after
// the booking leaves the active fleet view.
func (b Booking) ConvertBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]

	if _, err := primitive.ObjectIDFromHex(bookingID); err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	booking, err := b.Coordinator.Convert(ctx, bookingID)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			config.ErrorStatus("failed to get booking by ID", http.StatusNotFound, w, err)
		case errors.Is(err, dispatch.ErrInvalidTransition):
			config.ErrorStatus("only completed bookings can be converted", http.StatusBadRequest, w, err)
		case errors.Is(err, dispatch.ErrConflict):
			config.ErrorStatus("booking was converted concurrently", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to convert booking", http.StatusInternalServerError, w, err)
		}
		return
	}

	trackingID, err := b.Resolver.GetOrCreate(ctx, booking.Details.VehicleID, uid)
	if err != nil {
		config.ErrorStatus("failed to resolve tracking code", http.StatusInternalServerError, w, err)
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	shipment := models.Shipment{
		ID: primitive.NewObjectID(),
		Details: models.ShipmentDetails{
			BookingID:     bookingID,
			VehicleID:     booking.Details.VehicleID,
			DriverID:      booking.Details.DriverID,
			CustomerID:    booking.Details.CustomerID,
			TrackingID:    trackingID,
			Status:        models.ShipmentStatusCreated,
			PickupAddress: booking.Details.PickupAddress,
			DropAddress:   booking.Details.DropAddress,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	if _, err := b.Shipments.InsertOne(ctx, shipment); err != nil {
		zap.S().Errorw("booking converted but shipment insert failed",
			"bookingId", bookingID, "shipmentId", shipment.ID.Hex(), "error", err)
		config.ErrorStatus("failed to create shipment", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":    "Booking converted to shipment successfully",
		"shipmentId": shipment.ID.Hex(),
		"trackingId": trackingID,
	})
}

// PaymentSuccessHandler is where Stripe lands the customer after a completed
// checkout. It hands off to the frontend, carrying the session ID so the app
// can call verify-payment.
func PaymentSuccessHandler(w http.ResponseWriter, r *http.Request) {
	target := frontendURL("/payment/success")
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		target += "?session_id=" + url.QueryEscape(sessionID)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// PaymentCancelHandler is where Stripe lands the customer after an abandoned
// checkout.
func PaymentCancelHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, frontendURL("/payment/cancel"), http.StatusSeeOther)
}

// frontendURL resolves a path against FRONTEND_URL. Unset, the redirect stays
// relative so single-origin deployments work out of the box.
func frontendURL(path string) string {
	base := os.Getenv("FRONTEND_URL")
	if base == "" {
		return path
	}
	return strings.TrimSuffix(base, "/") + path
}

// apiBaseURL is the externally reachable base of this API, used for the
// return URLs handed to Stripe.
func apiBaseURL() string {
	if base := os.Getenv("BASE_URL"); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	return "http://localhost:8080"
}

// bookingParticipant reports whether the authenticated principal is the
// booking's customer, its driver, or an admin.
func bookingParticipant(r *http.Request, booking *models.Booking) bool {
	info, err := api.Actor(r.Context())
	if err != nil {
		return false
	}
	if info.ID() == booking.Details.CustomerID || info.ID() == booking.Details.DriverID {
		return true
	}
	for _, group := range info.Groups() {
		if group == models.RoleAdmin {
			return true
		}
	}
	return false
}

// actorRole picks the principal's role out of its auth groups.
func actorRole(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return groups[0]
}
