package dispatch

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/geo"
	"github.com/swifthaul/logistics-api/models"
)

// statusTransitions enumerates the legal booking status moves. pending_payment
// leaves through the payment flow (MarkPaid) or cancellation; converted is
// reached only through Convert.
var statusTransitions = map[string][]string{
	models.BookingStatusPendingPayment: {models.BookingStatusCancelled},
	models.BookingStatusPending:        {models.BookingStatusInProgress, models.BookingStatusCancelled},
	models.BookingStatusInProgress:     {models.BookingStatusCompleted, models.BookingStatusCancelled},
}

// activeStatuses are the booking states that hold a vehicle.
var activeStatuses = []string{
	models.BookingStatusPendingPayment,
	models.BookingStatusPending,
	models.BookingStatusInProgress,
}

// Coordinator couples the booking lifecycle to vehicle availability: creating
// a booking takes the vehicle off the market, reaching a terminal status puts
// it back.
type Coordinator struct {
	Bookings databases.BookingDatabase
	Vehicles databases.VehicleDatabase
}

// Create persists a new booking in pending_payment and marks the vehicle
// unavailable. The vehicle must be available and have a driver assigned. The
// fare is priced here from the route distance so clients cannot supply their
// own amount.
func (c *Coordinator) Create(ctx context.Context, details models.BookingDetails) (*models.Booking, error) {
	vehicleOID, err := primitive.ObjectIDFromHex(details.VehicleID)
	if err != nil {
		return nil, ErrNotFound
	}
	vehicle, err := c.Vehicles.FindOne(ctx, bson.M{"_id": vehicleOID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !vehicle.Details.Available {
		return nil, ErrVehicleUnavailable
	}
	if vehicle.Details.DriverID == "" {
		return nil, ErrNoDriverAssigned
	}

	details.DriverID = vehicle.Details.DriverID
	details.Status = models.BookingStatusPendingPayment
	details.PaymentStatus = models.PaymentStatusPending
	details.DistanceKm = geo.Distance(details.PickupLat, details.PickupLng, details.DropLat, details.DropLng) / 1000
	details.Amount = details.DistanceKm * vehicle.Details.PricePerKm
	details.CreatedAt = primitive.NewDateTimeFromTime(time.Now())
	details.UpdatedAt = details.CreatedAt

	booking := models.Booking{
		ID:      primitive.NewObjectID(),
		Details: details,
	}
	if _, err := c.Bookings.InsertOne(ctx, booking); err != nil {
		return nil, err
	}

	// The booking exists either way; a failed availability write is repaired
	// by the consistency sweep.
	if err := c.setVehicleAvailability(ctx, vehicleOID, false); err != nil {
		zap.S().Errorw("failed to mark vehicle unavailable after booking create",
			"bookingId", booking.ID.Hex(), "vehicleId", details.VehicleID, "error", err)
	}
	return &booking, nil
}

// UpdateStatus applies a lifecycle transition. The current status acts as the
// concurrency token: the update filter pins it, so two racing transitions
// cannot both win. Completed and cancelled bookings release the vehicle.
func (c *Coordinator) UpdateStatus(ctx context.Context, bookingID, next string) (*models.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		return nil, ErrNotFound
	}
	booking, err := c.Bookings.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !transitionAllowed(booking.Details.Status, next) {
		return nil, ErrInvalidTransition
	}

	res, err := c.Bookings.UpdateOne(ctx,
		bson.M{"_id": oid, "booking.status": booking.Details.Status},
		bson.M{"$set": bson.M{
			"booking.status":    next,
			"booking.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}

	booking.Details.Status = next
	if next == models.BookingStatusCompleted || next == models.BookingStatusCancelled {
		c.releaseVehicle(ctx, booking)
	}
	return booking, nil
}

// MarkPaid records a verified payment: paymentStatus becomes paid and the
// booking moves pending_payment -> pending. Calling it again for the same
// booking is a no-op, so the verify endpoint and a payment webhook can both
// report the same checkout session.
func (c *Coordinator) MarkPaid(ctx context.Context, bookingID string) error {
	oid, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		return ErrNotFound
	}
	res, err := c.Bookings.UpdateOne(ctx,
		bson.M{"_id": oid, "booking.status": models.BookingStatusPendingPayment},
		bson.M{"$set": bson.M{
			"booking.status":        models.BookingStatusPending,
			"booking.paymentStatus": models.PaymentStatusPaid,
			"booking.updatedAt":     primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	booking, err := c.Bookings.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}
	if booking.Details.PaymentStatus == models.PaymentStatusPaid {
		return nil
	}
	return ErrInvalidTransition
}

// MarkPaymentFailed flags the payment attempt without moving the booking, so
// the customer can retry checkout while the vehicle stays held.
func (c *Coordinator) MarkPaymentFailed(ctx context.Context, bookingID string) error {
	oid, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		return ErrNotFound
	}
	res, err := c.Bookings.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"booking.paymentStatus": models.PaymentStatusFailed,
			"booking.updatedAt":     primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Convert retires a completed booking into the converted state. The filter
// pins completed so two concurrent conversions cannot both create a shipment
// from the same booking.
func (c *Coordinator) Convert(ctx context.Context, bookingID string) (*models.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(bookingID)
	if err != nil {
		return nil, ErrNotFound
	}
	booking, err := c.Bookings.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if booking.Details.Status != models.BookingStatusCompleted {
		return nil, ErrInvalidTransition
	}

	res, err := c.Bookings.UpdateOne(ctx,
		bson.M{"_id": oid, "booking.status": models.BookingStatusCompleted},
		bson.M{"$set": bson.M{
			"booking.status":    models.BookingStatusConverted,
			"booking.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}

	booking.Details.Status = models.BookingStatusConverted
	return booking, nil
}

// HasActiveBooking reports whether any non-terminal booking currently holds
// the vehicle. The consistency sweep uses it to reconcile the available flag.
func (c *Coordinator) HasActiveBooking(ctx context.Context, vehicleHex string) (bool, error) {
	count, err := c.Bookings.CountDocuments(ctx, bson.M{
		"booking.vehicleId": vehicleHex,
		"booking.status":    bson.M{"$in": activeStatuses},
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// releaseVehicle marks the booking's vehicle available again. Failures are
// logged, not returned: the booking transition has already committed and the
// consistency sweep reconciles the flag.
func (c *Coordinator) releaseVehicle(ctx context.Context, booking *models.Booking) {
	oid, err := primitive.ObjectIDFromHex(booking.Details.VehicleID)
	if err != nil {
		zap.S().Warnw("booking references malformed vehicle id",
			"bookingId", booking.ID.Hex(), "vehicleId", booking.Details.VehicleID)
		return
	}
	if err := c.setVehicleAvailability(ctx, oid, true); err != nil {
		zap.S().Errorw("failed to release vehicle after terminal booking status",
			"bookingId", booking.ID.Hex(), "vehicleId", booking.Details.VehicleID, "error", err)
	}
}

// setVehicleAvailability writes the available flag without bumping the record
// version. The flag's authority is the booking set and the consistency sweep
// reconciles it, so availability writes must not invalidate in-flight
// assignment swaps.
func (c *Coordinator) setVehicleAvailability(ctx context.Context, vehicleOID primitive.ObjectID, available bool) error {
	_, err := c.Vehicles.UpdateOne(ctx,
		bson.M{"_id": vehicleOID},
		bson.M{"$set": bson.M{
			"vehicle.available": available,
			"vehicle.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	return err
}

func transitionAllowed(current, next string) bool {
	for _, allowed := range statusTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
