package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"emc/pkg/utils/logger"
)

const defaultQueueSize = 256

// Mux serves one multiplexed topic connection per authenticated user.
type Mux struct {
	bus       *Bus
	auth      *Authorizer
	verifier  *TokenVerifier
	queueSize int
	upgrader  websocket.Upgrader
}

// NewMux wires the hub, authorizer and token verifier together.
func NewMux(bus *Bus, auth *Authorizer, verifier *TokenVerifier) *Mux {
	return &Mux{
		bus:       bus,
		auth:      auth,
		verifier:  verifier,
		queueSize: defaultQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// GinHandler authenticates the request and upgrades it. The token
// comes from the Authorization header or, for browser clients, the
// `token` query parameter.
func (m *Mux) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			raw = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		ident, err := m.verifier.Verify(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		go m.Serve(conn, ident)
	}
}

// pump forwards one topic's broadcasts into the outbound queue.
type pump struct {
	sub  *Subscription
	done chan struct{}
}

// Serve runs the connection until the peer disconnects.
func (m *Mux) Serve(conn *websocket.Conn, ident Identity) {
	defer conn.Close()

	q := newOutQueue(m.queueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			data, ok := q.pop()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	pumps := make(map[string]*pump)
	presence := make(map[string]struct{})
	defer func() {
		for path, p := range pumps {
			p.sub.Close()
			<-p.done
			if _, ok := presence[path]; ok {
				m.bus.Unregister(path, ident.UserID)
			}
		}
		q.close()
		<-writerDone
	}()

	m.send(q, readyFrame())

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
			m.send(q, errorFrame("bad_request", "invalid frame"))
			continue
		}

		switch in.Type {
		case "ping":
			m.send(q, pongFrame())

		case "subscribe":
			var accepted []string
			var rejected []Rejection
			for _, topic := range in.Topics {
				path := topic.Path()
				decision := m.auth.Authorize(ctx, ident, topic)
				if !decision.Allowed {
					rejected = append(rejected, Rejection{path, decision.Reason})
					continue
				}
				if _, ok := pumps[path]; !ok {
					pumps[path] = m.spawnPump(q, path)
					m.bus.Register(path, ident.UserID)
					presence[path] = struct{}{}
				}
				accepted = append(accepted, path)
			}
			m.send(q, subscribeOkFrame(accepted, rejected))

		case "unsubscribe":
			var paths []string
			for _, topic := range in.Topics {
				path := topic.Path()
				paths = append(paths, path)
				if p, ok := pumps[path]; ok {
					p.sub.Close()
					<-p.done
					delete(pumps, path)
				}
				if _, ok := presence[path]; ok {
					m.bus.Unregister(path, ident.UserID)
					delete(presence, path)
				}
			}
			m.send(q, unsubscribeOkFrame(paths))

		case "command":
			m.send(q, errorFrame("not_implemented", "commands are not implemented"))

		case "auth", "reauth":
			m.send(q, errorFrame("bad_request", "auth is negotiated at connect"))

		default:
			m.send(q, errorFrame("bad_request", "unknown frame type"))
		}
	}
}

func (m *Mux) spawnPump(q *outQueue, path string) *pump {
	p := &pump{sub: m.bus.Subscribe(path), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for frame := range p.sub.C {
			q.push(frame, false)
		}
	}()
	return p
}

func (m *Mux) send(q *outQueue, frame *Outbound) {
	data, err := frame.encode()
	if err != nil {
		logger.Error(context.Background(), "encode outbound frame",
			zap.String("type", frame.Type), zap.Error(err))
		return
	}
	if !q.push(data, frame.critical()) {
		logger.Warn(context.Background(), "outbound queue wedged, dropping connection",
			zap.String("type", frame.Type))
		q.close()
	}
}

// outQueue is the bounded per-connection outbound buffer. When full,
// the oldest event frame is evicted first; control frames are never
// dropped. push returns false only when a control frame cannot be
// placed even after eviction.
type outQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []outItem
	cap     int
	closed  bool
	dropped int
}

type outItem struct {
	data     []byte
	critical bool
}

func newOutQueue(capacity int) *outQueue {
	q := &outQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *outQueue) push(data []byte, critical bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return true
	}
	if len(q.items) >= q.cap {
		// Coalesce from the front so the newest frames survive.
		if !q.evictOldestEvent() {
			if !critical {
				q.dropped++
				return true
			}
			return false
		}
	}
	q.items = append(q.items, outItem{data: data, critical: critical})
	q.cond.Signal()
	return true
}

func (q *outQueue) evictOldestEvent() bool {
	for i, item := range q.items {
		if !item.critical {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

func (q *outQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item.data, true
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Dropped returns how many event frames were coalesced away.
func (q *outQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
