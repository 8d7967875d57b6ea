package notifications

import (
	"context"
	"strconv"
	"sync"
	"time"

	"lingochat/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceOnlineSetKey  = "ws:online_users"
	defaultPresenceLastSeenKeyNS = "ws:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultLastSeenRetention     = 30 * 24 * time.Hour
	defaultReaperInterval        = 60 * time.Second
)

// PresenceMirrorConfig controls the Redis keys and timings of the mirror.
type PresenceMirrorConfig struct {
	OnlineSetKey      string
	LastSeenKeyPrefix string
	// HeartbeatTTL is how long a live user's heartbeat key survives without activity.
	HeartbeatTTL time.Duration
	// LastSeenRetention is how long the last-seen timestamp survives after disconnect.
	LastSeenRetention time.Duration
	ReaperInterval    time.Duration
}

// PresenceMirror copies process-local presence into Redis so other services
// can read online state and last-seen times. Routing never depends on it.
type PresenceMirror struct {
	rdb *redis.Client

	onlineSetKey      string
	lastSeenKeyPrefix string
	heartbeatTTL      time.Duration
	lastSeenRetention time.Duration
	reaperInterval    time.Duration

	now func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewPresenceMirror returns a mirror writing to rdb, or nil when rdb is nil.
func NewPresenceMirror(rdb *redis.Client, cfg PresenceMirrorConfig) *PresenceMirror {
	if rdb == nil {
		return nil
	}
	m := &PresenceMirror{
		rdb:               rdb,
		onlineSetKey:      defaultPresenceOnlineSetKey,
		lastSeenKeyPrefix: defaultPresenceLastSeenKeyNS,
		heartbeatTTL:      defaultPresenceTTL,
		lastSeenRetention: defaultLastSeenRetention,
		reaperInterval:    defaultReaperInterval,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
	if cfg.OnlineSetKey != "" {
		m.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		m.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.HeartbeatTTL > 0 {
		m.heartbeatTTL = cfg.HeartbeatTTL
	}
	if cfg.LastSeenRetention > 0 {
		m.lastSeenRetention = cfg.LastSeenRetention
	}
	if cfg.ReaperInterval > 0 {
		m.reaperInterval = cfg.ReaperInterval
	}
	return m
}

func (m *PresenceMirror) lastSeenKey(userID string) string {
	return m.lastSeenKeyPrefix + userID
}

// Start launches the background reaper. Calling it again is a no-op.
func (m *PresenceMirror) Start() {
	if m == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.reaperLoop()
	})
}

// Stop ends the reaper.
func (m *PresenceMirror) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// Touch marks userID online and refreshes its heartbeat.
func (m *PresenceMirror) Touch(ctx context.Context, userID string) {
	if m == nil || userID == "" {
		return
	}
	if err := m.rdb.SAdd(ctx, m.onlineSetKey, userID).Err(); err != nil {
		observability.LogAsyncOperationError(ctx, "presence_touch_sadd", err, map[string]interface{}{"user_id": userID})
	}
	stamp := strconv.FormatInt(m.now().Unix(), 10)
	if err := m.rdb.Set(ctx, m.lastSeenKey(userID), stamp, m.heartbeatTTL).Err(); err != nil {
		observability.LogAsyncOperationError(ctx, "presence_touch_set", err, map[string]interface{}{"user_id": userID})
	}
}

// MarkOffline removes userID from the online set and keeps its last-seen time.
func (m *PresenceMirror) MarkOffline(ctx context.Context, userID string) {
	if m == nil || userID == "" {
		return
	}
	if err := m.rdb.SRem(ctx, m.onlineSetKey, userID).Err(); err != nil {
		observability.LogAsyncOperationError(ctx, "presence_offline_srem", err, map[string]interface{}{"user_id": userID})
	}
	stamp := strconv.FormatInt(m.now().Unix(), 10)
	if err := m.rdb.Set(ctx, m.lastSeenKey(userID), stamp, m.lastSeenRetention).Err(); err != nil {
		observability.LogAsyncOperationError(ctx, "presence_offline_set", err, map[string]interface{}{"user_id": userID})
	}
}

// LastSeen returns the last recorded activity of userID.
func (m *PresenceMirror) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	raw, err := m.rdb.Get(ctx, m.lastSeenKey(userID)).Result()
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// OnlineUserIDs returns the users Redis believes are online.
func (m *PresenceMirror) OnlineUserIDs(ctx context.Context) []string {
	if m == nil {
		return nil
	}
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return nil
	}
	return members
}

// reapOnce drops online-set members whose heartbeat expired, which happens
// when a process dies without disconnecting its users.
func (m *PresenceMirror) reapOnce(ctx context.Context) int {
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return 0
	}

	reaped := 0
	for _, userID := range members {
		exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		if err := m.rdb.SRem(ctx, m.onlineSetKey, userID).Err(); err == nil {
			reaped++
		}
	}
	return reaped
}

func (m *PresenceMirror) reaperLoop() {
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce(context.Background())
		}
	}
}
