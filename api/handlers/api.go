package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/api/scheduler"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/geolocation"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	DB        databases.CollectionHelper
	Config    config.Config
	Scheduler *scheduler.Scheduler
	dbHelper  databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	userDB := databases.NewUserDatabase(a.dbHelper)
	vehicleDB := databases.NewVehicleDatabase(a.dbHelper)
	bookingDB := databases.NewBookingDatabase(a.dbHelper)
	shipmentDB := databases.NewShipmentDatabase(a.dbHelper)
	locationDB := databases.NewVehicleLocationDatabase(a.dbHelper)
	identityDB := databases.NewTrackingIdentityDatabase(a.dbHelper)

	resolver := &tracking.Resolver{Identities: identityDB}
	store := tracking.NewStore(locationDB, resolver)
	manager := &dispatch.Manager{Vehicles: vehicleDB, Users: userDB}
	coordinator := &dispatch.Coordinator{Bookings: bookingDB, Vehicles: vehicleDB}

	u := User{DB: userDB}
	v := Vehicle{DB: vehicleDB, Users: userDB, Dispatch: manager, Store: store}
	b := Booking{DB: bookingDB, Coordinator: coordinator, Shipments: shipmentDB, Resolver: resolver, Users: userDB}
	s := Shipment{DB: shipmentDB}
	loc := Location{Store: store, Users: userDB}
	t := Track{Identities: identityDB, Locations: locationDB, Shipments: shipmentDB}
	authn := Auth{DB: userDB}
	feed := DriverFeed{
		Store:   store,
		Locator: geolocation.NewIPLocator(),
		Users:   userDB,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The driver app and the API are served from different origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	cloudinaryHandler := CloudinaryHandler{}
	mapToken := MapToken{}
	metricsHandler := MetricsHandler{}

	r.Use(api.MetricsMiddleware)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	// The realtime surfaces are mounted on the root router: the request
	// timeout on the API subrouter would kill a socket held open for hours.
	r.Handle("/socket.io/", InitializeLivemap(store))
	r.Handle("/ws/driver", api.Middleware(api.RequireRole(models.RoleDriver, http.HandlerFunc(feed.DriverFeedHandler))))

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(25 * time.Second))

	apiCreate.Handle("/auth/register", http.HandlerFunc(authn.RegisterHandler)).Methods("POST")
	apiCreate.Handle("/auth/login", http.HandlerFunc(authn.LoginHandler)).Methods("POST")
	apiCreate.Handle("/auth/token", api.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/me", api.Middleware(http.HandlerFunc(u.MeHandler))).Methods("GET")
	apiCreate.Handle("/user/{user_id}", api.Middleware(http.HandlerFunc(u.UserHandler))).Methods("GET")
	apiCreate.Handle("/user/{user_id}", api.Middleware(http.HandlerFunc(u.UpdateUserByIDHandler))).Methods("PUT")
	apiCreate.Handle("/users", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(u.UsersHandler)))).Methods("GET")
	apiCreate.Handle("/drivers", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(u.DriversHandler)))).Methods("GET")

	apiCreate.Handle("/vehicles", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(v.VehicleHandler)))).Methods("GET")
	apiCreate.Handle("/vehicles/available", api.Middleware(http.HandlerFunc(v.AvailableVehiclesHandler))).Methods("GET")
	apiCreate.Handle("/vehicles/driver/{driver_id}", api.Middleware(http.HandlerFunc(v.VehiclesByDriverHandler))).Methods("GET")
	apiCreate.Handle("/vehicle", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(v.CreateVehicleHandler)))).Methods("POST")
	apiCreate.Handle("/vehicle/{vehicle_id}", api.Middleware(http.HandlerFunc(v.VehicleByIDHandler))).Methods("GET")
	apiCreate.Handle("/vehicle/{vehicle_id}", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(v.UpdateVehicleHandler)))).Methods("PUT")
	apiCreate.Handle("/vehicle/{vehicle_id}", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(v.DeleteVehicleHandler)))).Methods("DELETE")
	apiCreate.Handle("/vehicle/{vehicle_id}/assign-driver", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(v.AssignDriverHandler)))).Methods("PUT")

	apiCreate.Handle("/vehicle/{vehicle_id}/location", api.Middleware(api.RequireRole(models.RoleDriver, http.HandlerFunc(loc.UpdateVehicleLocationHandler)))).Methods("PUT")
	apiCreate.Handle("/vehicle/{vehicle_id}/location", api.Middleware(http.HandlerFunc(loc.VehicleLocationHandler))).Methods("GET")
	apiCreate.Handle("/vehicle/{vehicle_id}/tracking-id", api.Middleware(http.HandlerFunc(loc.VehicleTrackingIDHandler))).Methods("GET")

	apiCreate.Handle("/booking", api.Middleware(api.RequireRole(models.RoleCustomer, http.HandlerFunc(b.CreateBookingHandler)))).Methods("POST")
	apiCreate.Handle("/bookings", api.Middleware(http.HandlerFunc(b.BookingsHandler))).Methods("GET")
	apiCreate.Handle("/booking/{booking_id}", api.Middleware(http.HandlerFunc(b.BookingByIDHandler))).Methods("GET")
	apiCreate.Handle("/booking/{booking_id}/checkout", api.Middleware(api.RequireRole(models.RoleCustomer, http.HandlerFunc(b.CreateCheckoutSessionHandler)))).Methods("POST")
	apiCreate.Handle("/booking/{booking_id}/verify-payment", api.Middleware(api.RequireRole(models.RoleCustomer, http.HandlerFunc(b.VerifyPaymentHandler)))).Methods("GET")
	apiCreate.Handle("/booking/{booking_id}/status", api.Middleware(api.RequireRole(models.RoleDriver, http.HandlerFunc(b.UpdateBookingStatusHandler)))).Methods("PUT")
	apiCreate.Handle("/booking/{booking_id}/convert", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(b.ConvertBookingHandler)))).Methods("POST")

	apiCreate.Handle("/shipments", api.Middleware(http.HandlerFunc(s.ShipmentsHandler))).Methods("GET")
	apiCreate.Handle("/shipment/{shipment_id}", api.Middleware(http.HandlerFunc(s.ShipmentByIDHandler))).Methods("GET")
	apiCreate.Handle("/shipment/{shipment_id}/status", api.Middleware(api.RequireRole(models.RoleDriver, http.HandlerFunc(s.UpdateShipmentStatusHandler)))).Methods("PUT")

	// Public tracking page lookup: anyone holding the code may watch.
	apiCreate.Handle("/track/{tracking_id}", http.HandlerFunc(t.TrackHandler)).Methods("GET")

	apiCreate.Handle("/generate-signature", api.Middleware(http.HandlerFunc(cloudinaryHandler.GenerateSignature))).Methods("POST")
	apiCreate.Handle("/upload", api.Middleware(http.HandlerFunc(cloudinaryHandler.UploadHandler))).Methods("POST")

	apiCreate.Handle("/maps/token", api.Middleware(http.HandlerFunc(mapToken.MapTokenHandler))).Methods("GET")

	apiCreate.Handle("/metrics", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(metricsHandler.GetMetricsDashboard)))).Methods("GET")
	apiCreate.Handle("/metrics/summary", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(metricsHandler.GetMetricsSummary)))).Methods("GET")
	apiCreate.Handle("/metrics/routes", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(metricsHandler.GetRoutesMetrics)))).Methods("GET")
	apiCreate.Handle("/metrics/slow-queries", api.Middleware(api.RequireRole(models.RoleAdmin, http.HandlerFunc(metricsHandler.GetSlowQueries)))).Methods("GET")

	// Stripe lands the customer here after checkout; both hand off to the
	// frontend without auth.
	apiCreate.Handle("/payment/success", http.HandlerFunc(PaymentSuccessHandler)).Methods("GET")
	apiCreate.Handle("/payment/cancel", http.HandlerFunc(PaymentCancelHandler)).Methods("GET")

	// swagger docs hosted at "/"
	r.PathPrefix("/").Handler(http.StripPrefix("/", http.FileServer(http.Dir("./docs/"))))
	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("logistics-api has connected to the database")

	// initialize stripe
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		return fmt.Errorf("stripe secret key is not set")
	}
	stripe.Key = stripeKey

	// initialize api router
	a.initializeRoutes()

	// background jobs: assignment consistency sweep and the nightly ops digest
	a.Scheduler = scheduler.NewScheduler(
		databases.NewVehicleDatabase(a.dbHelper),
		databases.NewUserDatabase(a.dbHelper),
		databases.NewBookingDatabase(a.dbHelper),
		databases.NewVehicleLocationDatabase(a.dbHelper),
		databases.NewSchedulerLockDatabase(a.dbHelper),
		&dispatch.Coordinator{
			Bookings: databases.NewBookingDatabase(a.dbHelper),
			Vehicles: databases.NewVehicleDatabase(a.dbHelper),
		},
	)
	a.Scheduler.Start()

	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
