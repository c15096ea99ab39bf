package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/geo"
	"github.com/swifthaul/logistics-api/geolocation"
	"github.com/swifthaul/logistics-api/models"
)

// State names the acquisition phases of a driver session.
type State string

// Acquisition states. Acquired is transient: a session passes through it on
// the way from Searching to Watching.
const (
	StateSearching   State = "searching"
	StateAcquired    State = "acquired"
	StateWatching    State = "watching"
	StateTimeout     State = "timeout"
	StateDenied      State = "denied"
	StateUnavailable State = "unavailable"
	StateIPFallback  State = "ip_fallback"
)

// IPLocator resolves an approximate coordinate for a client address. It never
// fails; see geolocation.IPLocator.
type IPLocator interface {
	Locate(ctx context.Context, remoteAddr string) (float64, float64)
}

// SessionConfig carries every interval and threshold of the acquisition state
// machine so tests can run it against short clocks.
type SessionConfig struct {
	AcquireTimeout   time.Duration // one-shot fix timeout
	RetryBackoff     time.Duration // multiplied by the attempt number
	MaxAttempts      int           // timeouts before falling back to IP permanently
	RelaxedMaxAge    time.Duration // cached fix age accepted after the first retry
	GPSRetryInterval time.Duration // background GPS re-attempt cadence in fallback states
	SafetyInterval   time.Duration // force-write cadence of the last known coordinate

	AcquireAccuracyLimit float64 // meters; one-shot fixes coarser than this are dropped
	WatchAccuracyLimit   float64 // meters; watch fixes at or beyond this are dropped
	WatchMovementMin     float64 // meters; watch fixes closer than this to the last emit are dropped
}

// DefaultSessionConfig returns the production intervals.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AcquireTimeout:   10 * time.Second,
		RetryBackoff:     2 * time.Second,
		MaxAttempts:      3,
		RelaxedMaxAge:    30 * time.Second,
		GPSRetryInterval: 60 * time.Second,
		SafetyInterval:   30 * time.Second,

		AcquireAccuracyLimit: 100,
		WatchAccuracyLimit:   50,
		WatchMovementMin:     10,
	}
}

// Session drives location acquisition for one driver connection: high-accuracy
// GPS first, bounded timeout retries with backoff, IP fallback when the device
// cannot deliver, and a continuous watch once acquired. Every admitted reading
// flows through the store's throttle. A session always produces some location.
type Session struct {
	VehicleID  string
	ActorUID   string
	RemoteAddr string

	Provider geolocation.Provider
	Locator  IPLocator
	Store    *Store
	Config   SessionConfig

	mu        sync.Mutex
	state     State
	attempts  int
	last      *Reading
	wroteOnce bool
	onState   func(State)
}

// OnStateChange registers a callback invoked on every state transition, used
// to surface acquisition status to the driver client. Set it before Run.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current acquisition state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes the state machine until ctx is cancelled. It blocks; callers
// run it on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	if s.Config.MaxAttempts == 0 {
		s.Config = DefaultSessionConfig()
	}

	s.transition(StateSearching)
	go s.safetyLoop(ctx)

	for ctx.Err() == nil {
		switch s.State() {
		case StateSearching:
			s.search(ctx)
		case StateWatching:
			s.watch(ctx)
		case StateDenied, StateUnavailable, StateIPFallback:
			s.fallback(ctx)
		default:
			return
		}
	}
}

// search requests one high-accuracy fix and routes the outcome: a usable fix
// starts the watch, a coarse fix counts as a timeout, device errors select
// the fallback state.
func (s *Session) search(ctx context.Context) {
	opts := geolocation.Options{HighAccuracy: true, Timeout: s.Config.AcquireTimeout}
	if s.attemptCount() > 0 {
		// Relaxed retry: a cached fix beats no fix.
		opts.MaximumAge = s.Config.RelaxedMaxAge
	}

	pos, err := s.Provider.CurrentPosition(ctx, opts)
	if err != nil {
		switch {
		case errors.Is(err, geolocation.ErrPermissionDenied):
			s.transition(StateDenied)
		case errors.Is(err, geolocation.ErrPositionUnavailable):
			s.transition(StateUnavailable)
		case errors.Is(err, context.Canceled):
		default:
			s.timeout(ctx)
		}
		return
	}

	if pos.Accuracy > s.Config.AcquireAccuracyLimit {
		// Too coarse to trust; counts against the attempt budget.
		s.timeout(ctx)
		return
	}

	s.emit(ctx, s.gpsReading(pos))
	s.resetAttempts()
	s.transition(StateAcquired)
	s.transition(StateWatching)
}

// timeout books a failed attempt and either schedules the next search after
// backoff or falls permanently to IP for this session.
func (s *Session) timeout(ctx context.Context) {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	if attempts >= s.Config.MaxAttempts {
		s.transition(StateIPFallback)
		return
	}

	s.transition(StateTimeout)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(attempts) * s.Config.RetryBackoff):
		s.transition(StateSearching)
	}
}

// watch consumes the continuous position stream, dropping coarse fixes and
// sub-threshold movement before handing readings to the throttle.
func (s *Session) watch(ctx context.Context) {
	positions, errs, stop := s.Provider.WatchPosition(ctx, geolocation.Options{HighAccuracy: true})
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-positions:
			if !ok {
				// Stream ended underneath us; go back to acquiring.
				s.transition(StateSearching)
				return
			}
			if pos.Accuracy >= s.Config.WatchAccuracyLimit {
				continue
			}
			if last := s.lastReading(); last != nil &&
				geo.Distance(last.Lat, last.Lng, pos.Lat, pos.Lng) < s.Config.WatchMovementMin {
				continue
			}
			s.emit(ctx, s.gpsReading(pos))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, geolocation.ErrPermissionDenied) {
				s.transition(StateDenied)
				return
			}
			// Transient watch errors: the stream usually recovers on its own.
			zap.S().Debugw("watch error", "vehicleId", s.VehicleID, "error", err)
		}
	}
}

// fallback force-admits an IP-derived coordinate and retries GPS in the
// background. In the permanent IPFallback state the IP coordinate is also
// refreshed on every failed retry; in Denied/Unavailable the single IP fix
// stands (the safety loop keeps the record alive).
func (s *Session) fallback(ctx context.Context) {
	refreshIP := s.State() == StateIPFallback

	s.emitIPLocation(ctx)

	ticker := time.NewTicker(s.Config.GPSRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.retryGPS(ctx) {
				s.transition(StateWatching)
				return
			}
			if refreshIP {
				s.emitIPLocation(ctx)
			}
		}
	}
}

// retryGPS makes one background acquisition attempt. Success cancels the
// fallback path.
func (s *Session) retryGPS(ctx context.Context) bool {
	pos, err := s.Provider.CurrentPosition(ctx, geolocation.Options{
		HighAccuracy: true,
		Timeout:      s.Config.AcquireTimeout,
	})
	if err != nil || pos.Accuracy > s.Config.AcquireAccuracyLimit {
		return false
	}
	s.emit(ctx, s.gpsReading(pos))
	s.resetAttempts()
	return true
}

// safetyLoop force-writes the last known coordinate, whatever its source, on
// a fixed cadence to guard against silent stalls anywhere in the pipeline.
func (s *Session) safetyLoop(ctx context.Context) {
	ticker := time.NewTicker(s.Config.SafetyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := s.lastReading()
			if last == nil {
				continue
			}
			refresh := *last
			refresh.Timestamp = time.Now().UnixMilli()
			refresh.Force = true
			s.emit(ctx, refresh)
		}
	}
}

// emit pushes a reading into the store. The first write of a session is
// forced so a fresh session surfaces immediately regardless of what an
// earlier session left in the store.
func (s *Session) emit(ctx context.Context, reading Reading) {
	s.mu.Lock()
	if !s.wroteOnce {
		reading.Force = true
	}
	s.mu.Unlock()

	admitted, err := s.Store.Publish(ctx, reading)
	if err != nil {
		// Logged by the store; the next cycle is the retry.
		return
	}
	if admitted {
		s.mu.Lock()
		s.wroteOnce = true
		s.last = &reading
		s.mu.Unlock()
	}
}

func (s *Session) emitIPLocation(ctx context.Context) {
	lat, lng := s.Locator.Locate(ctx, s.RemoteAddr)
	s.emit(ctx, Reading{
		VehicleID: s.VehicleID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: time.Now().UnixMilli(),
		Source:    models.LocationSourceIP,
		Force:     true,
		UpdatedBy: s.ActorUID,
	})
}

func (s *Session) gpsReading(pos geolocation.Position) Reading {
	ts := pos.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return Reading{
		VehicleID: s.VehicleID,
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		Accuracy:  pos.Accuracy,
		Timestamp: ts,
		Source:    models.LocationSourceGPS,
		UpdatedBy: s.ActorUID,
	}
}

func (s *Session) lastReading() *Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	last := *s.last
	return &last
}

func (s *Session) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// resetAttempts clears the timeout budget after a successful acquisition so a
// later stream drop retries from scratch instead of inheriting old failures.
func (s *Session) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

func (s *Session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	cb := s.onState
	s.mu.Unlock()

	if prev == next {
		return
	}
	zap.S().Debugw("acquisition state change",
		"vehicleId", s.VehicleID, "from", prev, "to", next)
	if cb != nil {
		cb(next)
	}
}
