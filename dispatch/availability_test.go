package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/databases/mocks"
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/models"
)

func statusFilter(status string) func(bson.M) bool {
	return func(filter bson.M) bool {
		return filter["booking.status"] == status
	}
}

func TestCoordinatorCreateHoldsVehicleAndPricesFare(t *testing.T) {
	vehicleOID := oid(t, "66b1f0c4b2d9a40012f3e701")
	customerOID := oid(t, "66b1f0c4b2d9a40012f3e702")
	driverOID := oid(t, "66b1f0c4b2d9a40012f3e703")

	mockBookings := &mocks.BookingDatabase{}
	mockVehicles := &mocks.VehicleDatabase{}

	mockVehicles.On("FindOne", context.Background(), bson.M{"_id": vehicleOID}).
		Return(&models.Vehicle{
			ID:      vehicleOID,
			Details: models.VehicleDetails{Available: true, DriverID: driverOID.Hex(), PricePerKm: 18.5},
			Version: 2,
		}, nil)

	var inserted models.Booking
	mockBookings.On("InsertOne", context.Background(), mock.Anything).
		Return(nil, nil).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(models.Booking)
		})

	var availabilityUpdate bson.M
	mockVehicles.On("UpdateOne", context.Background(), bson.M{"_id": vehicleOID}, mock.Anything).
		Return(matched(1), nil).
		Run(func(args mock.Arguments) {
			availabilityUpdate = args.Get(2).(bson.M)
		})

	coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}
	booking, err := coordinator.Create(context.Background(), models.BookingDetails{
		VehicleID:     vehicleOID.Hex(),
		CustomerID:    customerOID.Hex(),
		PickupAddress: "12 MG Road, Bengaluru",
		DropAddress:   "High Grounds, Bengaluru",
		PickupLat:     12.9716,
		PickupLng:     77.5946,
		DropLat:       13.0616,
		DropLng:       77.5946,
	})

	assert.NoError(t, err)
	assert.False(t, booking.ID.IsZero())
	assert.Equal(t, models.BookingStatusPendingPayment, inserted.Details.Status)
	assert.Equal(t, models.PaymentStatusPending, inserted.Details.PaymentStatus)
	assert.Equal(t, driverOID.Hex(), inserted.Details.DriverID)
	assert.Equal(t, customerOID.Hex(), inserted.Details.CustomerID)
	// 0.09 degrees of pure latitude is a shade over 10 km.
	assert.InDelta(t, 10.0075, inserted.Details.DistanceKm, 0.001)
	assert.Equal(t, inserted.Details.DistanceKm*18.5, inserted.Details.Amount)
	assert.Equal(t, inserted.Details.CreatedAt, inserted.Details.UpdatedAt)

	set := availabilityUpdate["$set"].(bson.M)
	assert.Equal(t, false, set["vehicle.available"])
	_, bumpsVersion := availabilityUpdate["$inc"]
	assert.False(t, bumpsVersion)
}

func TestCoordinatorCreateRejections(t *testing.T) {
	vehicleOID := oid(t, "66b1f0c4b2d9a40012f3e711")

	t.Run("vehicle missing", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockVehicles := &mocks.VehicleDatabase{}
		mockVehicles.On("FindOne", context.Background(), bson.M{"_id": vehicleOID}).
			Return(nil, mongo.ErrNoDocuments)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}
		_, err := coordinator.Create(context.Background(), models.BookingDetails{VehicleID: vehicleOID.Hex()})

		assert.ErrorIs(t, err, dispatch.ErrNotFound)
	})

	t.Run("vehicle already held", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockVehicles := &mocks.VehicleDatabase{}
		mockVehicles.On("FindOne", context.Background(), bson.M{"_id": vehicleOID}).
			Return(&models.Vehicle{ID: vehicleOID, Details: models.VehicleDetails{Available: false, DriverID: "someone"}}, nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}
		_, err := coordinator.Create(context.Background(), models.BookingDetails{VehicleID: vehicleOID.Hex()})

		assert.ErrorIs(t, err, dispatch.ErrVehicleUnavailable)
		mockBookings.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
	})

	t.Run("no driver assigned", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockVehicles := &mocks.VehicleDatabase{}
		mockVehicles.On("FindOne", context.Background(), bson.M{"_id": vehicleOID}).
			Return(&models.Vehicle{ID: vehicleOID, Details: models.VehicleDetails{Available: true}}, nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}
		_, err := coordinator.Create(context.Background(), models.BookingDetails{VehicleID: vehicleOID.Hex()})

		assert.ErrorIs(t, err, dispatch.ErrNoDriverAssigned)
		mockBookings.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
	})
}

// Walks a booking through its whole life and watches the vehicle flag: held
// at creation, untouched by payment and by the start of the trip, released
// exactly once at completion.
func TestCoordinatorLifecycleReleasesVehicleOnlyAtTerminal(t *testing.T) {
	vehicleOID := oid(t, "66b1f0c4b2d9a40012f3e721")
	driverOID := oid(t, "66b1f0c4b2d9a40012f3e722")

	mockBookings := &mocks.BookingDatabase{}
	mockVehicles := &mocks.VehicleDatabase{}

	mockVehicles.On("FindOne", context.Background(), bson.M{"_id": vehicleOID}).
		Return(&models.Vehicle{
			ID:      vehicleOID,
			Details: models.VehicleDetails{Available: true, DriverID: driverOID.Hex(), PricePerKm: 10},
		}, nil)
	mockBookings.On("InsertOne", context.Background(), mock.Anything).Return(nil, nil)

	var availabilityWrites []bool
	mockVehicles.On("UpdateOne", context.Background(), bson.M{"_id": vehicleOID}, mock.Anything).
		Return(matched(1), nil).
		Run(func(args mock.Arguments) {
			set := args.Get(2).(bson.M)["$set"].(bson.M)
			availabilityWrites = append(availabilityWrites, set["vehicle.available"].(bool))
		})

	mockBookings.On("UpdateOne", context.Background(), mock.MatchedBy(statusFilter(models.BookingStatusPendingPayment)), mock.Anything).
		Return(matched(1), nil)
	mockBookings.On("UpdateOne", context.Background(), mock.MatchedBy(statusFilter(models.BookingStatusPending)), mock.Anything).
		Return(matched(1), nil)
	mockBookings.On("UpdateOne", context.Background(), mock.MatchedBy(statusFilter(models.BookingStatusInProgress)), mock.Anything).
		Return(matched(1), nil)

	bookingAt := func(status string) *models.Booking {
		return &models.Booking{
			ID:      oid(t, "66b1f0c4b2d9a40012f3e723"),
			Details: models.BookingDetails{VehicleID: vehicleOID.Hex(), Status: status},
		}
	}
	mockBookings.On("FindOne", context.Background(), mock.Anything).
		Return(bookingAt(models.BookingStatusPending), nil).Once()
	mockBookings.On("FindOne", context.Background(), mock.Anything).
		Return(bookingAt(models.BookingStatusInProgress), nil).Once()

	coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}

	created, err := coordinator.Create(context.Background(), models.BookingDetails{VehicleID: vehicleOID.Hex()})
	assert.NoError(t, err)

	assert.NoError(t, coordinator.MarkPaid(context.Background(), created.ID.Hex()))

	booking, err := coordinator.UpdateStatus(context.Background(), created.ID.Hex(), models.BookingStatusInProgress)
	assert.NoError(t, err)
	assert.Equal(t, models.BookingStatusInProgress, booking.Details.Status)

	booking, err = coordinator.UpdateStatus(context.Background(), created.ID.Hex(), models.BookingStatusCompleted)
	assert.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, booking.Details.Status)

	assert.Equal(t, []bool{false, true}, availabilityWrites)
	mockVehicles.AssertNumberOfCalls(t, "UpdateOne", 2)
}

func TestCoordinatorUpdateStatusRejectsIllegalTransitions(t *testing.T) {
	bookingOID := oid(t, "66b1f0c4b2d9a40012f3e731")

	cases := []struct {
		name string
		from string
		to   string
	}{
		{"cannot start before payment", models.BookingStatusPendingPayment, models.BookingStatusInProgress},
		{"cannot complete without starting", models.BookingStatusPending, models.BookingStatusCompleted},
		{"completed is terminal", models.BookingStatusCompleted, models.BookingStatusInProgress},
		{"cancelled is terminal", models.BookingStatusCancelled, models.BookingStatusPending},
		{"converted is terminal", models.BookingStatusConverted, models.BookingStatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockBookings := &mocks.BookingDatabase{}
			mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
				Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{Status: tc.from}}, nil)

			coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
			_, err := coordinator.UpdateStatus(context.Background(), bookingOID.Hex(), tc.to)

			assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
			mockBookings.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// Two racing writers both read the same status; the pinned-status filter lets
// only the first update match.
func TestCoordinatorUpdateStatusConflictsOnConcurrentTransition(t *testing.T) {
	bookingOID := oid(t, "66b1f0c4b2d9a40012f3e741")

	mockBookings := &mocks.BookingDatabase{}
	mockVehicles := &mocks.VehicleDatabase{}
	mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
		Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{Status: models.BookingStatusPending}}, nil)
	mockBookings.On("UpdateOne", context.Background(), mock.Anything, mock.Anything).
		Return(matched(0), nil)

	coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: mockVehicles}
	_, err := coordinator.UpdateStatus(context.Background(), bookingOID.Hex(), models.BookingStatusCancelled)

	assert.ErrorIs(t, err, dispatch.ErrConflict)
	mockVehicles.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinatorMarkPaid(t *testing.T) {
	bookingOID := oid(t, "66b1f0c4b2d9a40012f3e751")

	t.Run("moves pending_payment to pending", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		var update bson.M
		mockBookings.On("UpdateOne", context.Background(), bson.M{"_id": bookingOID, "booking.status": models.BookingStatusPendingPayment}, mock.Anything).
			Return(matched(1), nil).
			Run(func(args mock.Arguments) {
				update = args.Get(2).(bson.M)
			})

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		err := coordinator.MarkPaid(context.Background(), bookingOID.Hex())

		assert.NoError(t, err)
		set := update["$set"].(bson.M)
		assert.Equal(t, models.BookingStatusPending, set["booking.status"])
		assert.Equal(t, models.PaymentStatusPaid, set["booking.paymentStatus"])
	})

	t.Run("second verification is a no-op", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockBookings.On("UpdateOne", context.Background(), mock.Anything, mock.Anything).
			Return(matched(0), nil)
		mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
			Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{
				Status:        models.BookingStatusPending,
				PaymentStatus: models.PaymentStatusPaid,
			}}, nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		assert.NoError(t, coordinator.MarkPaid(context.Background(), bookingOID.Hex()))
	})

	t.Run("rejects payment against a moved booking", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockBookings.On("UpdateOne", context.Background(), mock.Anything, mock.Anything).
			Return(matched(0), nil)
		mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
			Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{
				Status:        models.BookingStatusCancelled,
				PaymentStatus: models.PaymentStatusPending,
			}}, nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		err := coordinator.MarkPaid(context.Background(), bookingOID.Hex())

		assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
	})
}

func TestCoordinatorMarkPaymentFailedLeavesStatusAlone(t *testing.T) {
	bookingOID := oid(t, "66b1f0c4b2d9a40012f3e761")

	mockBookings := &mocks.BookingDatabase{}
	var update bson.M
	mockBookings.On("UpdateOne", context.Background(), bson.M{"_id": bookingOID}, mock.Anything).
		Return(matched(1), nil).
		Run(func(args mock.Arguments) {
			update = args.Get(2).(bson.M)
		})

	coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
	err := coordinator.MarkPaymentFailed(context.Background(), bookingOID.Hex())

	assert.NoError(t, err)
	set := update["$set"].(bson.M)
	assert.Equal(t, models.PaymentStatusFailed, set["booking.paymentStatus"])
	_, movesStatus := set["booking.status"]
	assert.False(t, movesStatus)
}

func TestCoordinatorConvert(t *testing.T) {
	bookingOID := oid(t, "66b1f0c4b2d9a40012f3e771")

	t.Run("retires a completed booking", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
			Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{Status: models.BookingStatusCompleted}}, nil)
		mockBookings.On("UpdateOne", context.Background(), bson.M{"_id": bookingOID, "booking.status": models.BookingStatusCompleted}, mock.Anything).
			Return(matched(1), nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		booking, err := coordinator.Convert(context.Background(), bookingOID.Hex())

		assert.NoError(t, err)
		assert.Equal(t, models.BookingStatusConverted, booking.Details.Status)
	})

	t.Run("rejects an unfinished booking", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
			Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{Status: models.BookingStatusInProgress}}, nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		_, err := coordinator.Convert(context.Background(), bookingOID.Hex())

		assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
		mockBookings.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("loses the conversion race", func(t *testing.T) {
		mockBookings := &mocks.BookingDatabase{}
		mockBookings.On("FindOne", context.Background(), bson.M{"_id": bookingOID}).
			Return(&models.Booking{ID: bookingOID, Details: models.BookingDetails{Status: models.BookingStatusCompleted}}, nil)
		mockBookings.On("UpdateOne", context.Background(), mock.Anything, mock.Anything).
			Return(matched(0), nil)

		coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}
		_, err := coordinator.Convert(context.Background(), bookingOID.Hex())

		assert.ErrorIs(t, err, dispatch.ErrConflict)
	})
}

func TestCoordinatorHasActiveBooking(t *testing.T) {
	vehicleHex := "66b1f0c4b2d9a40012f3e781"
	filter := bson.M{
		"booking.vehicleId": vehicleHex,
		"booking.status": bson.M{"$in": []string{
			models.BookingStatusPendingPayment,
			models.BookingStatusPending,
			models.BookingStatusInProgress,
		}},
	}

	mockBookings := &mocks.BookingDatabase{}
	mockBookings.On("CountDocuments", context.Background(), filter).Return(int64(1), nil).Once()
	mockBookings.On("CountDocuments", context.Background(), filter).Return(int64(0), nil).Once()

	coordinator := &dispatch.Coordinator{Bookings: mockBookings, Vehicles: &mocks.VehicleDatabase{}}

	held, err := coordinator.HasActiveBooking(context.Background(), vehicleHex)
	assert.NoError(t, err)
	assert.True(t, held)

	held, err = coordinator.HasActiveBooking(context.Background(), vehicleHex)
	assert.NoError(t, err)
	assert.False(t, held)
}
