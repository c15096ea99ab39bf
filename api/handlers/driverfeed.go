package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/geolocation"
	"github.com/swifthaul/logistics-api/tracking"
)

const (
	// feedWriteWait bounds a single frame write.
	feedWriteWait = 10 * time.Second
	// feedReadWait is how long the socket survives without any inbound frame.
	feedReadWait = 90 * time.Second
	// feedPingPeriod paces the application-level ping frames. Must be well
	// under feedReadWait so a healthy device always answers in time.
	feedPingPeriod = 30 * time.Second

	feedMaxMessageSize = 4096
)

// DriverFeed exported for testing purposes
type DriverFeed struct {
	Store    *tracking.Store
	Locator  tracking.IPLocator
	Users    databases.UserDatabase
	Upgrader websocket.Upgrader
}

// driverFrame is every message either side of the driver socket sends. Fields
// are populated per type; requestId correlates replies to requests.
//
// Server to device: request, watch, clearWatch, ping.
// Device to server: position, error, pong.
type driverFrame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId,omitempty"`
	Lat       float64             `json:"lat,omitempty"`
	Lng       float64             `json:"lng,omitempty"`
	Accuracy  float64             `json:"accuracy,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
	Code      int                 `json:"code,omitempty"`
	Message   string              `json:"message,omitempty"`
	Options   *driverFrameOptions `json:"options,omitempty"`
}

// driverFrameOptions mirror the device geolocation options; durations travel
// in milliseconds.
type driverFrameOptions struct {
	HighAccuracy bool  `json:"enableHighAccuracy"`
	Timeout      int64 `json:"timeout,omitempty"`
	MaximumAge   int64 `json:"maximumAge,omitempty"`
}

// DriverFeedHandler upgrades an assigned driver's connection to a WebSocket
// and runs the location acquisition session over it until the device
// disconnects. The driver must be assigned to the vehicle it feeds.
func (d DriverFeed) DriverFeedHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}
	vehicleID := r.URL.Query().Get("vehicleId")
	if vehicleID == "" {
		config.ErrorStatus("vehicleId is required", http.StatusBadRequest, w, errors.New("missing vehicleId"))
		return
	}

	uOID, err := primitive.ObjectIDFromHex(uid)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	qctx, qcancel := api.WithQueryTimeout(r.Context())
	user, err := d.Users.FindOne(qctx, bson.M{"_id": uOID})
	qcancel()
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return
	}
	if user.Details.AssignedVehicleID != vehicleID {
		config.ErrorStatus("driver is not assigned to this vehicle", http.StatusForbidden, w, errors.New("not assigned"))
		return
	}

	conn, err := d.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		zap.S().Warnw("driver feed upgrade failed", "vehicleId", vehicleID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := newSocketProvider(conn)
	go provider.readPump(cancel)
	go provider.writePump(ctx)

	session := &tracking.Session{
		VehicleID:  vehicleID,
		ActorUID:   uid,
		RemoteAddr: r.RemoteAddr,
		Provider:   provider,
		Locator:    d.Locator,
		Store:      d.Store,
		Config:     tracking.DefaultSessionConfig(),
	}
	session.OnStateChange(func(state tracking.State) {
		zap.S().Debugw("driver session state", "vehicleId", vehicleID, "driverId", uid, "state", state)
	})

	zap.S().Infow("driver feed connected", "vehicleId", vehicleID, "driverId", uid)
	session.Run(ctx)
	zap.S().Infow("driver feed disconnected", "vehicleId", vehicleID, "driverId", uid)
}

// socketProvider adapts one driver WebSocket into the geolocation.Provider the
// acquisition session consumes. Requests go down the socket tagged with a
// request ID; the read pump routes device replies back by that ID. A single
// writer goroutine owns all socket writes.
type socketProvider struct {
	conn *websocket.Conn
	send chan driverFrame

	mu      sync.Mutex
	pending map[string]chan positionResult
	watches map[string]*watchStream

	closed    chan struct{}
	closeOnce sync.Once
}

type positionResult struct {
	pos geolocation.Position
	err error
}

type watchStream struct {
	positions chan geolocation.Position
	errs      chan error
}

func newSocketProvider(conn *websocket.Conn) *socketProvider {
	return &socketProvider{
		conn:    conn,
		send:    make(chan driverFrame, 16),
		pending: make(map[string]chan positionResult),
		watches: make(map[string]*watchStream),
		closed:  make(chan struct{}),
	}
}

// CurrentPosition asks the device for one fix and waits for the correlated
// reply. The device enforces opts.Timeout itself and reports code 3; the
// local deadline only covers a peer that stops answering entirely.
func (p *socketProvider) CurrentPosition(ctx context.Context, opts geolocation.Options) (geolocation.Position, error) {
	id := uuid.New().String()
	reply := make(chan positionResult, 1)

	p.mu.Lock()
	p.pending[id] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.sendFrame(ctx, driverFrame{Type: "request", RequestID: id, Options: frameOptions(opts)}); err != nil {
		return geolocation.Position{}, err
	}

	deadline := opts.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	timer := time.NewTimer(deadline + 5*time.Second)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.pos, res.err
	case <-timer.C:
		return geolocation.Position{}, geolocation.ErrTimeout
	case <-p.closed:
		return geolocation.Position{}, geolocation.ErrPositionUnavailable
	case <-ctx.Done():
		return geolocation.Position{}, ctx.Err()
	}
}

// WatchPosition starts a continuous stream on the device. The returned stop
// function tears the stream down and tells the device to clear its watch.
func (p *socketProvider) WatchPosition(ctx context.Context, opts geolocation.Options) (<-chan geolocation.Position, <-chan error, func()) {
	id := uuid.New().String()
	stream := &watchStream{
		positions: make(chan geolocation.Position, 8),
		errs:      make(chan error, 4),
	}

	p.mu.Lock()
	p.watches[id] = stream
	p.mu.Unlock()

	if err := p.sendFrame(ctx, driverFrame{Type: "watch", RequestID: id, Options: frameOptions(opts)}); err != nil {
		p.removeWatch(id)
	}

	stop := func() {
		if p.removeWatch(id) {
			p.trySend(driverFrame{Type: "clearWatch", RequestID: id})
		}
	}
	return stream.positions, stream.errs, stop
}

// removeWatch unregisters and closes a watch stream. Whoever deletes the map
// entry closes the channels, so teardown and stop cannot double close.
func (p *socketProvider) removeWatch(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	stream, ok := p.watches[id]
	if !ok {
		return false
	}
	delete(p.watches, id)
	close(stream.positions)
	close(stream.errs)
	return true
}

// readPump consumes device frames until the socket dies, then cancels the
// session and releases every waiter.
func (p *socketProvider) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		p.shutdown()
	}()

	p.conn.SetReadLimit(feedMaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(feedReadWait))

	for {
		var frame driverFrame
		if err := p.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.S().Debugw("driver socket closed unexpectedly", "error", err)
			}
			return
		}
		// Any frame proves the device is alive.
		p.conn.SetReadDeadline(time.Now().Add(feedReadWait))
		p.dispatch(frame)
	}
}

func (p *socketProvider) dispatch(frame driverFrame) {
	switch frame.Type {
	case "position":
		pos := geolocation.Position{
			Lat:       frame.Lat,
			Lng:       frame.Lng,
			Accuracy:  frame.Accuracy,
			Timestamp: frame.Timestamp,
		}
		p.deliver(frame.RequestID, positionResult{pos: pos})
	case "error":
		p.deliver(frame.RequestID, positionResult{err: geolocation.ErrorFromCode(frame.Code)})
	case "pong":
		// Deadline already refreshed by the read loop.
	default:
		zap.S().Debugw("unknown driver frame", "type", frame.Type)
	}
}

// deliver routes a device reply to the one-shot request or watch stream that
// asked for it. Replies to forgotten request IDs are dropped. Slow watch
// consumers lose fixes rather than stalling the read pump.
func (p *socketProvider) deliver(requestID string, res positionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if reply, ok := p.pending[requestID]; ok {
		delete(p.pending, requestID)
		reply <- res
		return
	}
	stream, ok := p.watches[requestID]
	if !ok {
		return
	}
	if res.err != nil {
		select {
		case stream.errs <- res.err:
		default:
		}
		return
	}
	select {
	case stream.positions <- res.pos:
	default:
	}
}

// writePump owns every socket write: outbound frames plus the ping cadence.
func (p *socketProvider) writePump(ctx context.Context) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := p.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := p.conn.WriteJSON(driverFrame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (p *socketProvider) sendFrame(ctx context.Context, frame driverFrame) error {
	select {
	case p.send <- frame:
		return nil
	case <-p.closed:
		return geolocation.ErrPositionUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *socketProvider) trySend(frame driverFrame) {
	select {
	case p.send <- frame:
	case <-p.closed:
	}
}

// shutdown releases every waiter after the socket is gone: pending one-shot
// requests fail, watch streams close.
func (p *socketProvider) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()

		p.mu.Lock()
		for id, reply := range p.pending {
			delete(p.pending, id)
			reply <- positionResult{err: geolocation.ErrPositionUnavailable}
		}
		for id, stream := range p.watches {
			delete(p.watches, id)
			close(stream.positions)
			close(stream.errs)
		}
		p.mu.Unlock()
	})
}

func frameOptions(opts geolocation.Options) *driverFrameOptions {
	return &driverFrameOptions{
		HighAccuracy: opts.HighAccuracy,
		Timeout:      opts.Timeout.Milliseconds(),
		MaximumAge:   opts.MaximumAge.Milliseconds(),
	}
}
