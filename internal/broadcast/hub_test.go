package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/orderbook"
	"BTCSpotGame/internal/wallet"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get("session")
		h.ServeWS(w, r, session, fixedBalance(wallet.NewBalance(decimal.NewFromInt(100))))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func fixedBalance(bal wallet.Balance) BalanceLoader {
	return func(context.Context) (wallet.Balance, error) { return bal, nil }
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/?session=" + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f received
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("frame is not a single JSON document: %v (%s)", err, msg)
	}
	return f
}

func snapshot(bid, ask string) orderbook.Snapshot {
	s, err := orderbook.FromLevels("BTCUSDT", 1, [][]string{{bid, "1"}}, [][]string{{ask, "1"}}, 5)
	if err != nil {
		panic(err)
	}
	return s
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := h.Stats(); c == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := h.Stats()
	t.Fatalf("expected %d clients, got %d", n, c)
}

func TestServeWS_SendsBalanceFirst(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "s1")

	f := readFrame(t, conn)
	if f.Event != EventBalance {
		t.Fatalf("expected balance frame first, got %s", f.Event)
	}
	if string(f.Data) != `{"btc":0,"usdt":100}` {
		t.Errorf("unexpected balance payload %s", f.Data)
	}
}

func TestServeWS_ReplaysLatestMarket(t *testing.T) {
	h, srv := startHub(t)
	h.PublishMarket(snapshot("49000", "49001"))
	h.PublishMarket(snapshot("50000", "50001"))

	// publishes are buffered, so a register may overtake them; retry until
	// the replay carries the newest snapshot
	var f received
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn := dial(t, srv, "s1")
		if readFrame(t, conn).Event != EventBalance {
			t.Fatal("balance frame must come first")
		}
		f = readFrame(t, conn)
		if strings.Contains(string(f.Data), "50000") {
			break
		}
		conn.Close()
	}
	if f.Event != EventMarket {
		t.Fatalf("expected market frame, got %s", f.Event)
	}
	if string(f.Data) != `{"bids":[["50000","1"]],"asks":[["50001","1"]]}` {
		t.Errorf("unexpected market payload %s", f.Data)
	}
}

func TestPublishMarket_ReachesEveryViewer(t *testing.T) {
	h, srv := startHub(t)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	readFrame(t, a)
	readFrame(t, b)
	waitForClients(t, h, 2)

	h.PublishMarket(snapshot("50000", "50001"))

	for _, conn := range []*websocket.Conn{a, b} {
		if f := readFrame(t, conn); f.Event != EventMarket {
			t.Errorf("expected market frame, got %s", f.Event)
		}
	}
}

func TestPublishBalance_OnlyReachesSession(t *testing.T) {
	h, srv := startHub(t)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	readFrame(t, a)
	readFrame(t, b)
	waitForClients(t, h, 2)

	h.PublishBalance("a", wallet.Balance{BTC: decimal.RequireFromString("0.001998")})
	h.PublishMarket(snapshot("50000", "50001"))

	f := readFrame(t, a)
	if f.Event != EventBalance || string(f.Data) != `{"btc":0.001998,"usdt":0}` {
		t.Errorf("session a: unexpected frame %s %s", f.Event, f.Data)
	}
	if f := readFrame(t, a); f.Event != EventMarket {
		t.Errorf("session a: expected market next, got %s", f.Event)
	}
	// b skips straight to the market event
	if f := readFrame(t, b); f.Event != EventMarket {
		t.Errorf("session b received another session's balance: %s", f.Data)
	}
}

func TestHub_UnregistersClosedViewer(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "s1")
	readFrame(t, conn)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)

	// publishing to a gone session is a no-op
	h.PublishBalance("s1", wallet.Balance{})
}

func TestHub_ShutdownClosesViewers(t *testing.T) {
	h := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "s1", fixedBalance(wallet.Balance{}))
	}))
	defer srv.Close()

	conn := dial(t, srv, "s1")
	readFrame(t, conn)
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				t.Fatal("connection was not closed on shutdown")
			}
			return
		}
	}
}

func TestServeWS_BalancePublishedWhileLoadingIsDelivered(t *testing.T) {
	h := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// a trade on the same session lands while the starting balance is read
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "s1", func(context.Context) (wallet.Balance, error) {
			h.PublishBalance("s1", wallet.Balance{BTC: decimal.RequireFromString("0.001998")})
			return wallet.NewBalance(decimal.NewFromInt(100)), nil
		})
	}))
	defer srv.Close()

	conn := dial(t, srv, "s1")
	if f := readFrame(t, conn); f.Event != EventBalance || string(f.Data) != `{"btc":0,"usdt":100}` {
		t.Fatalf("expected starting balance first, got %s %s", f.Event, f.Data)
	}
	if f := readFrame(t, conn); f.Event != EventBalance || string(f.Data) != `{"btc":0.001998,"usdt":0}` {
		t.Errorf("balance published during connect was lost, got %s %s", f.Event, f.Data)
	}
}

func TestServeWS_LoadFailureClosesViewer(t *testing.T) {
	h := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "s1", func(context.Context) (wallet.Balance, error) {
			return wallet.Balance{}, errors.New("redis down")
		})
	}))
	defer srv.Close()

	conn := dial(t, srv, "s1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close, got frame %s", msg)
	} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Fatal("connection was not closed after the balance failed to load")
	}
	waitForClients(t, h, 0)
}
