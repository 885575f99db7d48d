// Package broadcast pushes market and balance events to connected viewers
// over websockets. Delivery is best effort: nothing is queued durably and a
// viewer that cannot keep up loses messages, then its connection.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/orderbook"
	"BTCSpotGame/internal/wallet"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	maxMessageSize      = 4 * 1024
	defaultSendBuf      = 64
	defaultPublishBuf   = 1024
	maxConsecutiveDrops = 50
)

// Event names carried in Frame.Event.
const (
	EventMarket  = "market"
	EventBalance = "balance"
)

// Frame is the envelope of every message sent to a viewer.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type publishMsg struct {
	// session is empty for events that go to every viewer.
	session string
	data    []byte
	market  bool
}

// BalanceLoader reads the balance a new viewer starts from.
type BalanceLoader func(ctx context.Context) (wallet.Balance, error)

type priming struct {
	client  *Client
	balance []byte
}

// Hub owns the set of connected viewers. All bookkeeping happens on the Run
// goroutine; the public methods only talk to it through channels.
type Hub struct {
	register   chan *Client
	prime      chan priming
	unregister chan *Client
	publish    chan publishMsg
	done       chan struct{}

	clients  map[*Client]struct{}
	sessions map[string]map[*Client]struct{}

	// latest market frame, replayed to every new viewer
	lastMarket []byte

	sendBuf int

	connected    atomic.Int64
	publishDrops atomic.Uint64

	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// Client is one viewer connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session string
	send    chan []byte

	// consecutive drops; reset whenever a send succeeds
	drops int

	// A viewer is registered before its starting balance is read and primed
	// after. Until then it gets nothing; the newest balance event for its
	// session is held and sent right after the starting balance.
	primed bool
	held   []byte
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		register:   make(chan *Client),
		prime:      make(chan priming),
		unregister: make(chan *Client),
		publish:    make(chan publishMsg, defaultPublishBuf),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sessions:   make(map[string]map[*Client]struct{}),
		sendBuf:    defaultSendBuf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "broadcast"),
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, closing every
// viewer connection.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("ws hub started")
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			subs := h.sessions[c.session]
			if subs == nil {
				subs = make(map[*Client]struct{})
				h.sessions[c.session] = subs
			}
			subs[c] = struct{}{}
			h.connected.Add(1)

		case p := <-h.prime:
			c := p.client
			if _, ok := h.clients[c]; !ok {
				continue
			}
			c.primed = true
			// nothing has been queued before priming, so none of these block
			c.send <- p.balance
			if h.lastMarket != nil {
				c.send <- h.lastMarket
			}
			if c.held != nil {
				c.send <- c.held
				c.held = nil
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
			}

		case p := <-h.publish:
			if p.market {
				h.lastMarket = p.data
				for c := range h.clients {
					if c.primed {
						h.deliver(c, p.data)
					}
				}
				continue
			}
			for c := range h.sessions[p.session] {
				if !c.primed {
					c.held = p.data
					continue
				}
				h.deliver(c, p.data)
			}

		case <-ctx.Done():
			h.log.Info("ws hub shutting down")
			for c := range h.clients {
				h.remove(c)
				_ = c.conn.Close()
			}
			return
		}
	}
}

// deliver never blocks the loop. A viewer that keeps missing messages is cut off.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
		c.drops = 0
	default:
		h.publishDrops.Add(1)
		c.drops++
		if c.drops > maxConsecutiveDrops {
			h.log.WithFields(logrus.Fields{
				"session": c.session,
				"drops":   c.drops,
			}).Warn("evicting slow viewer")
			h.remove(c)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	if subs := h.sessions[c.session]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.sessions, c.session)
		}
	}
	close(c.send)
	h.connected.Add(-1)
}

// ServeWS upgrades the request and registers a viewer for session. The
// starting balance comes from load, called once the viewer is registered so
// that a balance event published in between is not lost. The first frame the
// viewer receives is that balance, followed by the latest market snapshot
// when one has been published.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, session string, load BalanceLoader) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:     h,
		conn:    conn,
		session: session,
		send:    make(chan []byte, h.sendBuf),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	first, err := h.startingBalance(r.Context(), load)
	if err != nil {
		h.log.WithError(err).WithField("session", session).Error("load starting balance")
		// readPump notices and unregisters the viewer
		_ = conn.Close()
		return
	}

	select {
	case h.prime <- priming{client: c, balance: first}:
	case <-h.done:
	}
}

func (h *Hub) startingBalance(ctx context.Context, load BalanceLoader) ([]byte, error) {
	bal, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: EventBalance, Data: bal})
}

// PublishMarket sends s to every viewer and remembers it for viewers that
// connect later.
func (h *Hub) PublishMarket(s orderbook.Snapshot) {
	h.enqueue(publishMsg{market: true}, Frame{Event: EventMarket, Data: s})
}

// PublishBalance sends bal to the viewers connected with session.
func (h *Hub) PublishBalance(session string, bal wallet.Balance) {
	h.enqueue(publishMsg{session: session}, Frame{Event: EventBalance, Data: bal})
}

func (h *Hub) enqueue(msg publishMsg, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		h.log.WithError(err).WithField("event", f.Event).Error("marshal frame")
		return
	}
	msg.data = b

	select {
	case h.publish <- msg:
	default:
		h.publishDrops.Add(1)
		h.log.WithField("event", f.Event).Warn("publish channel full, dropping event")
	}
}

// Stats returns the number of connected viewers and the total dropped messages.
func (h *Hub) Stats() (clients int, drops uint64) {
	return int(h.connected.Load()), h.publishDrops.Load()
}

// readPump only exists to process control frames and notice the viewer
// going away; viewers have nothing to say.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("session", c.session).Debug("viewer read error")
			}
			return
		}
	}
}

// writePump serialises all writes to the connection, one JSON document per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
