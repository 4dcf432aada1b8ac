package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Platform tags the client operating environment.
type Platform string

const (
	PlatformWindows Platform = "Windows"
	PlatformMacOS   Platform = "MacOS"
	PlatformLinux   Platform = "Linux"
	PlatformWeb     Platform = "Web"
)

// ParsePlatform matches a platform tag case-insensitively.
func ParsePlatform(value string) (Platform, error) {
	for _, p := range []Platform{PlatformWindows, PlatformMacOS, PlatformLinux, PlatformWeb} {
		if strings.EqualFold(strings.TrimSpace(value), string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", value)
}

const writeTimeout = 5 * time.Second

type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return p.encoder.Encode(frame)
}

func (p *wsPeer) close() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Session is one connected client. Frames for it are queued in a bounded
// outbox and written by the connection's writer goroutine.
type Session struct {
	id   string
	peer *wsPeer

	outbox   chan Envelope
	done     chan struct{}
	closing  sync.Once
	kicked   chan struct{}
	kickOnce sync.Once

	mu        sync.Mutex
	platform  Platform
	connected bool
	viewing   string
}

func newSession(id string, peer *wsPeer, outboxSize int) *Session {
	return &Session{
		id:     id,
		peer:   peer,
		outbox: make(chan Envelope, outboxSize),
		done:   make(chan struct{}),
		kicked: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// Platform returns the tag sent with Connect.
func (s *Session) Platform() Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
}

// Viewing returns the instance the client is showing, if any.
func (s *Session) Viewing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

func (s *Session) connect(platform Platform) {
	s.mu.Lock()
	s.platform = platform
	s.connected = true
	s.mu.Unlock()
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) setViewing(instanceID string) {
	s.mu.Lock()
	s.viewing = instanceID
	s.mu.Unlock()
}

// forget clears the viewing reference if it points at instanceID.
func (s *Session) forget(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewing != instanceID {
		return false
	}
	s.viewing = ""
	return true
}

// enqueue queues frame without blocking. It reports false when the session
// is closing or its outbox is full; a full outbox also kicks the session.
func (s *Session) enqueue(frame Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- frame:
		return true
	default:
		s.kickOnce.Do(func() { close(s.kicked) })
		return false
	}
}

// close stops the session from accepting frames. Queued frames are still
// flushed by the writer.
func (s *Session) close() {
	s.closing.Do(func() { close(s.done) })
}
