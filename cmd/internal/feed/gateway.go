package feed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/auth/session"
	"traq/cmd/internal/board"
	"traq/cmd/internal/softdelete"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default; only localhost is allowed unless
	// configured otherwise.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for the activity feed.
//
// It enforces origin policy, authenticates via the access cookie, and fans
// activity entries out through the Hub. It implements board.Publisher.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	sessions *session.Service
	users    identity.Store

	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, hub *Hub, sessions *session.Service, users identity.Store) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if sessions == nil {
		return nil, errors.New("feed: nil session service")
	}
	if users == nil {
		return nil, errors.New("feed: nil identity store")
	}

	g := &Gateway{log: log, hub: hub, sessions: sessions, users: users}

	g.originRequired = envBoolWS("TRAQ_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("TRAQ_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("TRAQ_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("TRAQ_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("TRAQ_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("TRAQ_WS_HEARTBEAT_INTERVAL", 30*time.Second)
	g.heartbeatTimeout = envDurationWS("TRAQ_WS_HEARTBEAT_TIMEOUT", 10*time.Second)

	return g, nil
}

// Publish implements board.Publisher.
func (g *Gateway) Publish(entry board.ActivityEntry) {
	if g == nil {
		return
	}
	g.hub.Broadcast(eventFromActivity(entry))
}

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and streams the
// feed until either side closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	user, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	sessionID := newRandomHex(10)
	client := NewClient(user.ID, sessionID, g.sendQueueSize)
	g.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(sessionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case ev := <-client.Send:
				wCtx, wCancel := context.WithTimeout(ctx, g.writeTimeout)
				err := wsjson.Write(wCtx, conn, ev)
				wCancel()
				if err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// The feed is one-directional; the read loop exists to notice the peer
	// closing and to keep the connection's control frames flowing.
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		_, _, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			default:
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					shutdown(websocket.StatusNormalClosure, "idle")
				} else {
					shutdown(websocket.StatusAbnormalClosure, "read failed")
				}
			}
			break
		}
	}

	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- auth ----

func (g *Gateway) authenticate(r *http.Request) (identity.User, error) {
	c, err := r.Cookie("access_token")
	if err != nil {
		return identity.User{}, errors.New("missing access cookie")
	}
	token := strings.TrimSpace(c.Value)
	if token == "" {
		return identity.User{}, errors.New("empty access cookie")
	}

	claims, err := g.sessions.VerifyAccess(token, time.Now().UTC())
	if err != nil {
		return identity.User{}, fmt.Errorf("verify access: %w", err)
	}

	u, err := g.users.GetByID(r.Context(), claims.UserID, softdelete.Active)
	if err != nil {
		return identity.User{}, fmt.Errorf("load user: %w", err)
	}
	if u.Blocked {
		return identity.User{}, errors.New("account blocked")
	}
	return u, nil
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	ou, err := url.Parse(origin)
	if err != nil || ou.Host == "" {
		return fmt.Errorf("invalid origin: %q", origin)
	}

	for _, allowed := range g.allowedOrigins {
		au, err := url.Parse(allowed)
		if err != nil || au.Host == "" {
			continue
		}
		if strings.EqualFold(ou.Scheme, au.Scheme) && strings.EqualFold(ou.Hostname(), au.Hostname()) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %q", origin)
}

func deriveOriginPatterns(allowed []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, a := range allowed {
		u, err := url.Parse(strings.TrimSpace(a))
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := u.Hostname()
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key, def string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 10
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
