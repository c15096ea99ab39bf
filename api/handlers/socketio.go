package handlers

import (
	"log"
	"sync"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/swifthaul/logistics-api/tracking"
)

var server *socketio.Server

// livemapFeeds fans the store's location stream out to socket.io rooms. One
// store subscription per vehicle, shared by every watcher in its room; the
// last watcher out tears the subscription down.
type livemapFeeds struct {
	mu    sync.Mutex
	store *tracking.Store
	feeds map[string]*vehicleFeed
}

type vehicleFeed struct {
	watchers int
	cancel   func()
}

func (l *livemapFeeds) acquire(vehicleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if feed, ok := l.feeds[vehicleID]; ok {
		feed.watchers++
		return
	}

	ch, cancel := l.store.Subscribe(vehicleID)
	l.feeds[vehicleID] = &vehicleFeed{watchers: 1, cancel: cancel}

	room := vehicleRoom(vehicleID)
	go func() {
		for location := range ch {
			// The handshake is unauthenticated, so the payload carries the
			// same subset the public tracking page serves.
			server.BroadcastToRoom("/", room, "vehicle_location", map[string]interface{}{
				"vehicleId": location.VehicleID,
				"lat":       location.Lat,
				"lng":       location.Lng,
				"timestamp": location.Timestamp,
				"source":    location.Source,
			})
		}
	}()
}

func (l *livemapFeeds) release(vehicleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	feed, ok := l.feeds[vehicleID]
	if !ok {
		return
	}
	feed.watchers--
	if feed.watchers <= 0 {
		feed.cancel()
		delete(l.feeds, vehicleID)
	}
}

// watchSet tracks which vehicles one socket.io connection watches, so a
// disconnect releases exactly the subscriptions that connection acquired.
// Events for a single connection arrive serialized, but disconnect can race
// a late event, hence the lock.
type watchSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (ws *watchSet) add(id string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.ids[id] {
		return false
	}
	ws.ids[id] = true
	return true
}

func (ws *watchSet) remove(id string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !ws.ids[id] {
		return false
	}
	delete(ws.ids, id)
	return true
}

func (ws *watchSet) drain() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ids := make([]string, 0, len(ws.ids))
	for id := range ws.ids {
		ids = append(ids, id)
	}
	ws.ids = map[string]bool{}
	return ids
}

func vehicleRoom(vehicleID string) string {
	return "vehicle:" + vehicleID
}

// InitializeLivemap initializes the Socket.IO server backing the admin live
// map: clients join per-vehicle rooms and receive vehicle_location events as
// admitted readings land in the store
func InitializeLivemap(store *tracking.Store) *socketio.Server {
	server = socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			polling.Default,
			websocket.Default,
		},
	})

	feeds := &livemapFeeds{
		store: store,
		feeds: map[string]*vehicleFeed{},
	}

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&watchSet{ids: map[string]bool{}})
		log.Println("Socket.IO client connected:", s.ID())
		return nil
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("Socket.IO error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ws, ok := s.Context().(*watchSet); ok {
			for _, vehicleID := range ws.drain() {
				feeds.release(vehicleID)
			}
		}
		log.Println("Socket.IO client disconnected:", s.ID(), "reason:", reason)
	})

	server.OnEvent("/", "watch_vehicle", func(s socketio.Conn, msg map[string]interface{}) {
		vehicleID, ok := msg["vehicleId"].(string)
		if !ok || vehicleID == "" {
			return
		}
		ws, ok := s.Context().(*watchSet)
		if !ok {
			return
		}
		if ws.add(vehicleID) {
			s.Join(vehicleRoom(vehicleID))
			feeds.acquire(vehicleID)
			log.Println("Client watching vehicle:", vehicleID)
		}
	})

	server.OnEvent("/", "unwatch_vehicle", func(s socketio.Conn, msg map[string]interface{}) {
		vehicleID, ok := msg["vehicleId"].(string)
		if !ok || vehicleID == "" {
			return
		}
		ws, ok := s.Context().(*watchSet)
		if !ok {
			return
		}
		if ws.remove(vehicleID) {
			s.Leave(vehicleRoom(vehicleID))
			feeds.release(vehicleID)
			log.Println("Client stopped watching vehicle:", vehicleID)
		}
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("Socket.IO server error: %v", err)
		}
	}()

	return server
}

// GetSocketIOServer returns the Socket.IO server instance
func GetSocketIOServer() *socketio.Server {
	return server
}
