package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultWSBaseURL is the public spot market stream endpoint.
const DefaultWSBaseURL = "wss://stream.binance.com:9443"

// StreamURL returns the partial book depth stream for symbol, e.g.
// wss://stream.binance.com:9443/ws/btcusdt@depth5@100ms. Valid depths are 5, 10 and 20.
func StreamURL(baseURL, symbol string, depth int) string {
	if baseURL == "" {
		baseURL = DefaultWSBaseURL
	}
	return fmt.Sprintf("%s/ws/%s@depth%d@100ms", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol), depth)
}

// StreamClient 带有自动重连机制的 WebSocket 客户端
type StreamClient struct {
	URL        string
	OnSnapshot func(DepthSnapshot) // 回调函数：将网络层与业务层解耦
	// OnError is told about every dial, read and decode failure. Optional.
	OnError func(error)

	ReconnectDelay time.Duration
	// ReadTimeout bounds the silence between two frames. The venue pushes every
	// 100ms, so a quiet connection is a dead one.
	ReadTimeout time.Duration

	Dialer *websocket.Dialer
	Log    logrus.FieldLogger
	// After is the clock used between reconnects; tests replace it.
	After func(time.Duration) <-chan time.Time
}

func (c *StreamClient) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.After == nil {
		c.After = time.After
	}
}

// Start 启动客户端并阻塞运行，直到 ctx 被取消
func (c *StreamClient) Start(ctx context.Context) {
	c.defaults()
	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.Log.Info("context canceled, exiting reconnect loop")
			return
		}
		if err != nil {
			c.fail(err)
			c.Log.WithError(err).Warnf("stream connection error, reconnecting in %s", c.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			c.Log.Info("context canceled, exiting reconnect loop")
			return
		case <-c.After(c.ReconnectDelay): // 固定延迟重连
		}
	}
}

func (c *StreamClient) fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *StreamClient) connectAndRead(ctx context.Context) error {
	c.Log.WithField("url", c.URL).Info("dialing depth stream")
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// 监听 ctx 的取消信号，以便优雅关闭连接
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err) // 读取失败，返回 err 触发外部的重连机制
		}

		var snap DepthSnapshot
		if err := json.Unmarshal(message, &snap); err != nil {
			c.fail(fmt.Errorf("decode frame: %w", err))
			c.Log.WithError(err).WithField("payload", truncate(message, 256)).Warn("stream frame parse error")
			continue
		}

		if c.OnSnapshot != nil {
			c.OnSnapshot(snap)
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
