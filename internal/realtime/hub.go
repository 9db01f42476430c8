package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/podpost/internal/metrics"
	"github.com/hitoshi/podpost/internal/model"
)

// Hub は接続中のクライアントへイベントをファンアウトする。
// Broadcastはブロックせず、キューが満杯のクライアントへのイベントは破棄する。
type Hub struct {
	log     *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub はHubを生成する。mはnilでもよい。
func NewHub(log *slog.Logger, m metrics.MetricsCollector) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		now:     time.Now,
		clients: make(map[string]*Client),
	}
}

// Register はクライアントを配信対象に追加する。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.recordClients(n)
}

// Unregister はクライアントを配信対象から外す。
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	delete(h.clients, clientID)
	n := len(h.clients)
	h.mu.Unlock()

	h.recordClients(n)
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast は全クライアントにイベントを送る。
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case <-c.Done():
		case c.Send <- ev:
		default:
			h.log.Warn("stream event dropped",
				slog.String("client_id", id),
				slog.String("type", ev.Type),
			)
		}
	}
}

// PublishPostCreated はpost.createdイベントを配信する。
func (h *Hub) PublishPostCreated(post *model.PostWithAuthor) {
	h.Broadcast(Event{
		Type: TypePostCreated,
		Post: newPostPayload(post),
		TS:   h.now().UTC(),
	})
}

// PublishPostDeleted はpost.deletedイベントを配信する。
func (h *Hub) PublishPostDeleted(postID string) {
	h.Broadcast(Event{
		Type:   TypePostDeleted,
		PostID: postID,
		TS:     h.now().UTC(),
	})
}

// PublishPostsRemoved は退会したユーザーの全投稿が消えたことを配信する。
func (h *Hub) PublishPostsRemoved(authorID string) {
	h.Broadcast(Event{
		Type:     TypePostsRemoved,
		AuthorID: authorID,
		TS:       h.now().UTC(),
	})
}

func (h *Hub) recordClients(n int) {
	if h.metrics != nil {
		h.metrics.SetStreamClients(n)
	}
}
