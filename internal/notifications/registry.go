// Package notifications implements the realtime side of chat: connection
// registry, room routing and event dispatch.
package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lingochat/internal/models"
	"lingochat/internal/observability"
)

const (
	// DefaultMaxConnsPerUser caps simultaneous connections of one user.
	DefaultMaxConnsPerUser = 12
	// DefaultMaxTotalConns caps connections held by the process.
	DefaultMaxTotalConns = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrAlreadyBound    = errors.New("connection already registered")
)

// Credentials are the handshake inputs a connection can authenticate with.
type Credentials struct {
	Token  string
	Ticket string
}

// Identity is the authenticated owner of a connection. Unverified is set when
// the token was decoded without a signature check.
type Identity struct {
	UserID     string
	Unverified bool
}

// Authenticator resolves handshake credentials to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Identity, error)
}

// RegistryConfig tunes a Registry. Zero limits use the defaults.
type RegistryConfig struct {
	MaxConnsPerUser int
	MaxTotalConns   int
	Mirror          *PresenceMirror
	// MirrorEnabled gates the mirror per user. Nil means always on.
	MirrorEnabled func(userID string) bool
}

// Registry binds authenticated users to live connections and keeps a
// reference count of connections per user for presence.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	total  int

	// presenceMu orders announcements; announced holds users last
	// broadcast as online.
	presenceMu sync.Mutex
	announced  map[string]struct{}

	auth   Authenticator
	router *Router
	log    *observability.WSLogger

	maxPerUser    int
	maxTotal      int
	mirror        *PresenceMirror
	mirrorEnabled func(userID string) bool
}

// NewRegistry creates a Registry that subscribes connections through router.
func NewRegistry(auth Authenticator, router *Router, cfg RegistryConfig) *Registry {
	r := &Registry{
		byUser:        make(map[string]map[*Client]struct{}),
		announced:     make(map[string]struct{}),
		auth:          auth,
		router:        router,
		log:           observability.NewWSLogger("chat registry"),
		maxPerUser:    cfg.MaxConnsPerUser,
		maxTotal:      cfg.MaxTotalConns,
		mirror:        cfg.Mirror,
		mirrorEnabled: cfg.MirrorEnabled,
	}
	if r.maxPerUser <= 0 {
		r.maxPerUser = DefaultMaxConnsPerUser
	}
	if r.maxTotal <= 0 {
		r.maxTotal = DefaultMaxTotalConns
	}
	return r
}

// Name returns a human-readable identifier for this hub.
func (r *Registry) Name() string { return "chat registry" }

// Router returns the router connections are subscribed through.
func (r *Registry) Router() *Router { return r.router }

// Authenticate resolves credentials to an identity.
func (r *Registry) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	if r.auth == nil {
		return Identity{}, models.NewUnauthorizedError("Authentication unavailable")
	}
	if creds.Token == "" && creds.Ticket == "" {
		return Identity{}, models.NewUnauthorizedError("Missing credentials")
	}
	return r.auth.Authenticate(ctx, creds)
}

func (r *Registry) mirrorFor(userID string) *PresenceMirror {
	if r.mirror == nil {
		return nil
	}
	if r.mirrorEnabled != nil && !r.mirrorEnabled(userID) {
		return nil
	}
	return r.mirror
}

// Register binds c to userID, subscribes it to the user's private room and
// reports whether the user just came online.
func (r *Registry) Register(ctx context.Context, c *Client, userID string) (bool, error) {
	if userID == "" {
		return false, models.NewUnauthorizedError("Missing user")
	}

	r.mu.Lock()
	if c.UserID != "" && c.UserID != userID {
		r.mu.Unlock()
		return false, ErrAlreadyBound
	}
	if _, bound := r.byUser[userID][c]; bound {
		r.mu.Unlock()
		return false, ErrAlreadyBound
	}
	if r.total >= r.maxTotal {
		r.mu.Unlock()
		return false, ErrServerConnLimit
	}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[*Client]struct{})
		r.byUser[userID] = conns
	}
	if len(conns) >= r.maxPerUser {
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
		r.mu.Unlock()
		return false, ErrUserConnLimit
	}
	c.UserID = userID
	c.Hub = r
	conns[c] = struct{}{}
	r.total++
	cameOnline := len(conns) == 1
	online := len(r.byUser)
	r.mu.Unlock()

	r.router.Join(c, UserRoom(userID))

	observability.ActiveWebSockets.Inc()
	observability.OnlineUsers.Set(float64(online))
	if m := r.mirrorFor(userID); m != nil {
		m.Touch(ctx, userID)
	}
	return cameOnline, nil
}

// Unregister releases c's rooms and presence contribution, closes its queue
// and reports whether its user went offline. Unknown connections are ignored.
func (r *Registry) Unregister(ctx context.Context, c *Client) bool {
	r.mu.Lock()
	conns, ok := r.byUser[c.UserID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, exists := conns[c]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(conns, c)
	r.total--
	wentOffline := len(conns) == 0
	if wentOffline {
		delete(r.byUser, c.UserID)
	}
	online := len(r.byUser)
	r.mu.Unlock()

	r.router.LeaveAll(c)
	c.Close()

	observability.ActiveWebSockets.Dec()
	observability.OnlineUsers.Set(float64(online))
	if wentOffline {
		if m := r.mirrorFor(c.UserID); m != nil {
			m.MarkOffline(ctx, c.UserID)
		}
	}
	return wentOffline
}

// UnregisterClient is called by the read pump when a connection ends.
func (r *Registry) UnregisterClient(c *Client) {
	ctx := context.Background()
	wentOffline := r.Unregister(ctx, c)
	if c.UserID == "" {
		return
	}
	r.log.LogDisconnect(ctx, c.UserID, c.ID, wentOffline)
	if wentOffline {
		r.AnnouncePresence(c.UserID)
	}
}

// EvictFromRoom unsubscribes every connection of userID from room, used when
// the user stops being a member of a conversation.
func (r *Registry) EvictFromRoom(userID, room string) int {
	r.mu.RLock()
	conns := make([]*Client, 0, len(r.byUser[userID]))
	for c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, c := range conns {
		if r.router.Leave(c, room) {
			evicted++
		}
	}
	return evicted
}

// Touch refreshes the mirrored heartbeat of c's user.
func (r *Registry) Touch(ctx context.Context, c *Client) {
	if m := r.mirrorFor(c.UserID); m != nil {
		m.Touch(ctx, c.UserID)
	}
}

// AnnouncePresence broadcasts userID's current presence when it differs from
// the last announced state and reports whether it did. The state is read at
// announce time, so a reconnect racing a disconnect never leaves the user
// announced as offline.
func (r *Registry) AnnouncePresence(userID string) bool {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	online := r.IsOnline(userID)
	_, wasOnline := r.announced[userID]
	if online == wasOnline {
		return false
	}
	if online {
		r.announced[userID] = struct{}{}
	} else {
		delete(r.announced, userID)
	}
	r.router.BroadcastAll(PresenceUpdateEvent{UserID: userID, Online: online})
	return true
}

// Snapshot returns the sorted ids of users with at least one live connection.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// IsOnline reports whether userID has a live connection on this process.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionCount returns the number of live connections of userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Total returns the number of registered connections.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// LastSeen returns the mirrored last activity of userID when the mirror is enabled.
func (r *Registry) LastSeen(ctx context.Context, userID string) (string, bool) {
	m := r.mirrorFor(userID)
	if m == nil {
		return "", false
	}
	t, ok := m.LastSeen(ctx, userID)
	if !ok {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

// Shutdown closes every connection queue so write pumps send close frames.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	clients := make([]*Client, 0, r.total)
	for _, conns := range r.byUser {
		for c := range conns {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.Unregister(ctx, c)
	}
	if r.mirror != nil {
		r.mirror.Stop()
	}
	return nil
}
