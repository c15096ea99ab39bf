package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/models"
	templates "github.com/swifthaul/logistics-api/templates/html"
)

// Scheduler handles periodic background jobs for the fleet
type Scheduler struct {
	cron        *cron.Cron
	VDB         databases.VehicleDatabase
	UDB         databases.UserDatabase
	BDB         databases.BookingDatabase
	LocDB       databases.VehicleLocationDatabase
	LockDB      databases.SchedulerLockDatabase
	Coordinator *dispatch.Coordinator
	instanceID  string

	// Repairs made since the last digest, reported in the next one.
	sweepRepairs atomic.Int64
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	vDB databases.VehicleDatabase,
	uDB databases.UserDatabase,
	bDB databases.BookingDatabase,
	locDB databases.VehicleLocationDatabase,
	lockDB databases.SchedulerLockDatabase,
	coordinator *dispatch.Coordinator,
) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	}
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:        cron.New(cron.WithLocation(time.UTC)),
		VDB:         vDB,
		UDB:         uDB,
		BDB:         bDB,
		LocDB:       locDB,
		LockDB:      lockDB,
		Coordinator: coordinator,
		instanceID:  instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Repair torn assignment links and stale availability flags every 10 minutes
	_, err := s.cron.AddFunc("*/10 * * * *", s.runConsistencySweep)
	if err != nil {
		zap.S().Errorw("failed to register consistency sweep job", "error", err)
	}

	// Mail the operations digest to admins daily at 3 AM UTC
	_, err = s.cron.AddFunc("0 3 * * *", s.sendOpsDigest)
	if err != nil {
		zap.S().Errorw("failed to register ops digest job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Fleet scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Fleet scheduler stopped")
}

// runConsistencySweep repairs drift between the two halves of the
// driver-vehicle link and reconciles each vehicle's availability flag with its
// bookings. The assignment protocol writes two records without a transaction,
// so a crash between writes leaves a torn link; the vehicle record is
// authoritative and the user records are rewritten to match it.
func (s *Scheduler) runConsistencySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Try to acquire distributed lock (10 minute TTL)
	acquired, err := s.LockDB.TryAcquireLock(ctx, "assignment_consistency_sweep", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for consistency sweep", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Consistency sweep already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "assignment_consistency_sweep", s.instanceID)

	zap.S().Infow("Running assignment consistency sweep", "instance", s.instanceID)

	vehicles, err := s.VDB.Find(ctx, bson.M{})
	if err != nil {
		zap.S().Errorw("failed to load vehicles for sweep", "error", err)
		return
	}

	linkRepairs := 0
	// Driver hex -> hex of the vehicle whose claim on that driver stands.
	claimed := map[string]string{}

	for i := range vehicles {
		vehicle := &vehicles[i]
		if s.repairVehicleLink(ctx, vehicle, claimed) {
			linkRepairs++
		}
	}

	linkRepairs += s.repairDanglingDrivers(ctx, claimed)
	availabilityRepairs := s.reconcileAvailability(ctx, vehicles)

	s.sweepRepairs.Add(int64(linkRepairs + availabilityRepairs))

	zap.S().Infow("Assignment consistency sweep complete",
		"vehiclesChecked", len(vehicles),
		"linkRepairs", linkRepairs,
		"availabilityRepairs", availabilityRepairs,
	)
}

// repairVehicleLink validates one vehicle's driver claim and rewrites the
// driver's half of the link to match. Returns true when a repair was written.
func (s *Scheduler) repairVehicleLink(ctx context.Context, vehicle *models.Vehicle, claimed map[string]string) bool {
	driverHex := vehicle.Details.DriverID
	if driverHex == "" {
		return false
	}
	vehicleHex := vehicle.ID.Hex()

	// Two vehicles claiming one driver cannot both win. The first claim seen
	// stands; the later one is the torn remainder of a failed swap.
	if keeper, ok := claimed[driverHex]; ok {
		zap.S().Warnw("driver claimed by two vehicles, clearing the later claim",
			"driverId", driverHex,
			"keptVehicleId", keeper,
			"clearedVehicleId", vehicleHex,
		)
		return s.clearVehicleDriver(ctx, vehicle)
	}

	driverOID, err := primitive.ObjectIDFromHex(driverHex)
	if err != nil {
		zap.S().Warnw("vehicle carries malformed driver reference, clearing",
			"vehicleId", vehicleHex, "driverId", driverHex)
		return s.clearVehicleDriver(ctx, vehicle)
	}

	driver, err := s.UDB.FindOne(ctx, bson.M{"_id": driverOID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("vehicle references deleted driver, clearing",
				"vehicleId", vehicleHex, "driverId", driverHex)
			return s.clearVehicleDriver(ctx, vehicle)
		}
		zap.S().Errorw("failed to load driver for sweep", "error", err, "driverId", driverHex)
		return false
	}
	if driver.Details.Role != models.RoleDriver {
		zap.S().Warnw("vehicle references non-driver user, clearing",
			"vehicleId", vehicleHex, "driverId", driverHex, "role", driver.Details.Role)
		return s.clearVehicleDriver(ctx, vehicle)
	}

	claimed[driverHex] = vehicleHex

	if driver.Details.AssignedVehicleID != vehicleHex {
		zap.S().Infow("repairing torn assignment link",
			"vehicleId", vehicleHex,
			"driverId", driverHex,
			"driverHad", driver.Details.AssignedVehicleID,
		)
		return s.setDriverVehicle(ctx, driver, vehicleHex)
	}
	return false
}

// repairDanglingDrivers clears assignedVehicleId on drivers no vehicle claims.
// Runs after the vehicle pass so the claimed map is complete.
func (s *Scheduler) repairDanglingDrivers(ctx context.Context, claimed map[string]string) int {
	drivers, err := s.UDB.Find(ctx, bson.M{
		"user.role":              models.RoleDriver,
		"user.assignedVehicleId": bson.M{"$ne": ""},
	})
	if err != nil {
		zap.S().Errorw("failed to load drivers for sweep", "error", err)
		return 0
	}

	repairs := 0
	for i := range drivers {
		driver := &drivers[i]
		driverHex := driver.ID.Hex()
		if claimed[driverHex] == driver.Details.AssignedVehicleID {
			continue
		}
		zap.S().Warnw("driver links to a vehicle that does not claim them, clearing",
			"driverId", driverHex, "assignedVehicleId", driver.Details.AssignedVehicleID)
		if s.setDriverVehicle(ctx, driver, "") {
			repairs++
		}
	}
	return repairs
}

// reconcileAvailability compares each vehicle's available flag against its
// booking set and rewrites flags that drifted, e.g. after a crash between a
// terminal booking transition and the vehicle release.
func (s *Scheduler) reconcileAvailability(ctx context.Context, vehicles []models.Vehicle) int {
	repairs := 0
	for i := range vehicles {
		vehicle := &vehicles[i]
		vehicleHex := vehicle.ID.Hex()

		active, err := s.Coordinator.HasActiveBooking(ctx, vehicleHex)
		if err != nil {
			zap.S().Errorw("failed to count active bookings for sweep", "error", err, "vehicleId", vehicleHex)
			continue
		}
		expected := !active
		if vehicle.Details.Available == expected {
			continue
		}

		zap.S().Infow("repairing availability flag",
			"vehicleId", vehicleHex, "was", vehicle.Details.Available, "now", expected)

		// No version bump: availability writes must not invalidate in-flight
		// assignment swaps.
		_, err = s.VDB.UpdateOne(ctx,
			bson.M{"_id": vehicle.ID},
			bson.M{"$set": bson.M{
				"vehicle.available": expected,
				"vehicle.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
			}},
		)
		if err != nil {
			zap.S().Errorw("failed to repair availability flag", "error", err, "vehicleId", vehicleHex)
			continue
		}
		repairs++
	}
	return repairs
}

// clearVehicleDriver removes a vehicle's driver link. The write is pinned on
// the version read at the start of the sweep; losing the race to a concurrent
// assignment is fine, the next sweep revisits.
func (s *Scheduler) clearVehicleDriver(ctx context.Context, vehicle *models.Vehicle) bool {
	res, err := s.VDB.UpdateOne(ctx,
		bson.M{"_id": vehicle.ID, "__v": vehicle.Version},
		bson.M{
			"$set": bson.M{
				"vehicle.driverId":  "",
				"vehicle.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
			},
			"$inc": bson.M{"__v": 1},
		},
	)
	if err != nil {
		zap.S().Errorw("failed to clear vehicle driver link", "error", err, "vehicleId", vehicle.ID.Hex())
		return false
	}
	return res.MatchedCount > 0
}

// setDriverVehicle rewrites a driver's assignedVehicleId, version-pinned like
// clearVehicleDriver.
func (s *Scheduler) setDriverVehicle(ctx context.Context, driver *models.User, vehicleHex string) bool {
	res, err := s.UDB.UpdateOne(ctx,
		bson.M{"_id": driver.ID, "__v": driver.Version},
		bson.M{
			"$set": bson.M{
				"user.assignedVehicleId": vehicleHex,
				"user.updatedAt":         primitive.NewDateTimeFromTime(time.Now()),
			},
			"$inc": bson.M{"__v": 1},
		},
	)
	if err != nil {
		zap.S().Errorw("failed to rewrite driver vehicle link", "error", err, "driverId", driver.ID.Hex())
		return false
	}
	return res.MatchedCount > 0
}

// sendOpsDigest mails admins a daily summary of fleet activity: bookings
// opened and completed, repairs the sweep made, and vehicles whose live
// location has gone stale.
func (s *Scheduler) sendOpsDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Try to acquire distributed lock (10 minute TTL)
	acquired, err := s.LockDB.TryAcquireLock(ctx, "nightly_digest_job", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for ops digest job", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Ops digest job already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "nightly_digest_job", s.instanceID)

	zap.S().Infow("Running ops digest job", "instance", s.instanceID)

	now := time.Now()
	since := primitive.NewDateTimeFromTime(now.Add(-24 * time.Hour))

	created, err := s.BDB.CountDocuments(ctx, bson.M{
		"booking.createdAt": bson.M{"$gte": since},
	})
	if err != nil {
		zap.S().Errorw("failed to count created bookings for digest", "error", err)
	}

	completed, err := s.BDB.CountDocuments(ctx, bson.M{
		"booking.status":    models.BookingStatusCompleted,
		"booking.updatedAt": bson.M{"$gte": since},
	})
	if err != nil {
		zap.S().Errorw("failed to count completed bookings for digest", "error", err)
	}

	// A vehicle whose last report is older than a day has a dead feed, not a
	// parked truck; the digest surfaces those for follow-up.
	staleLocations, err := s.LocDB.Find(ctx, bson.M{
		"timestamp": bson.M{"$lt": now.Add(-24 * time.Hour).UnixMilli()},
	})
	if err != nil {
		zap.S().Errorw("failed to load stale locations for digest", "error", err)
	}

	repairs := s.sweepRepairs.Swap(0)

	admins, err := s.UDB.Find(ctx, bson.M{
		"user.role":   models.RoleAdmin,
		"user.active": true,
	})
	if err != nil {
		zap.S().Errorw("failed to load admins for digest", "error", err)
		return
	}
	if len(admins) == 0 {
		zap.S().Warn("no active admins to receive ops digest")
		return
	}

	subject := fmt.Sprintf("SwiftHaul Operations Digest - %s", now.UTC().Format("Jan 2, 2006"))
	body := fmt.Sprintf(
		"Daily operations summary for the last 24 hours.\n\n"+
			"Bookings created: %d\n"+
			"Bookings completed: %d\n"+
			"Assignment repairs since last digest: %d\n"+
			"Vehicles with stale locations (no report in 24h): %d",
		created, completed, repairs, len(staleLocations),
	)
	htmlContent := templates.RenderGenericEmail(subject, body)
	plainText := body

	sent := 0
	for _, admin := range admins {
		if admin.Details.Email == "" {
			continue
		}
		if err := s.sendEmail(admin.Details.Email, admin.Details.Name, subject, htmlContent, plainText); err != nil {
			zap.S().Errorw("failed to send ops digest", "error", err, "userId", admin.ID.Hex())
			continue
		}
		sent++
	}

	zap.S().Infow("Ops digest complete",
		"bookingsCreated", created,
		"bookingsCompleted", completed,
		"repairs", repairs,
		"staleLocations", len(staleLocations),
		"emailsSent", sent,
	)
}

func (s *Scheduler) sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("SwiftHaul Logistics", "no-reply@swifthaul.app")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
