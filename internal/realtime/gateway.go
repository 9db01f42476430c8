package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultSendQueueSize = 32
	defaultWriteTimeout  = 5 * time.Second
	heartbeatInterval    = 25 * time.Second
	heartbeatTimeout     = 5 * time.Second
	maxPingFailures      = 3
	maxFrameBytes        = 4 << 10
)

// GatewayConfig はWebSocketゲートウェイの設定。
type GatewayConfig struct {
	// AllowedOrigins はクロスオリジン接続を許可するオリジン（例: http://localhost:5173）。
	AllowedOrigins    []string
	SendQueueSize     int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Gateway は GET /posts/stream をWebSocketにアップグレードし、Hubのイベントを配信する。
// クライアントからのメッセージは読み捨て、切断検知のみに使う。
type Gateway struct {
	hub            *Hub
	log            *slog.Logger
	originPatterns []string
	sendQueueSize  int
	writeTimeout   time.Duration
	heartbeatEvery time.Duration
}

// NewGateway はGatewayを生成する。
func NewGateway(hub *Hub, log *slog.Logger, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		hub:            hub,
		log:            log,
		originPatterns: originHosts(cfg.AllowedOrigins),
		sendQueueSize:  cfg.SendQueueSize,
		writeTimeout:   cfg.WriteTimeout,
		heartbeatEvery: cfg.HeartbeatInterval,
	}
	if g.sendQueueSize <= 0 {
		g.sendQueueSize = defaultSendQueueSize
	}
	if g.writeTimeout <= 0 {
		g.writeTimeout = defaultWriteTimeout
	}
	if g.heartbeatEvery <= 0 {
		g.heartbeatEvery = heartbeatInterval
	}
	return g
}

// ServeHTTP はWebSocket接続を受け付け、切断までイベントを送り続ける。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// http.ServerのRead/WriteTimeoutを長時間接続に適用しない
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("stream accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(uuid.New().String(), g.sendQueueSize)
	g.hub.Register(client)
	g.log.Info("stream client connected", slog.String("client_id", client.ID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client.ID)
			client.Close()
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
				if err := writeEvent(ctx, conn, ev, g.writeTimeout); err != nil {
					g.log.Info("stream write failed",
						slog.String("client_id", client.ID),
						slog.String("error", err.Error()),
					)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go func() {
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
				pingCtx, pingCancel := context.WithTimeout(ctx, heartbeatTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// 読み取りは切断検知のみ
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	g.log.Info("stream client disconnected", slog.String("client_id", client.ID))
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// originHosts はオリジンURLからwebsocket.AcceptのOriginPatterns用のホスト部分を取り出す。
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
