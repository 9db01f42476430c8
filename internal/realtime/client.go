package realtime

import "sync"

// Client は接続中の1つのWebSocketセッションを表す。
// Sendはブロードキャストとの競合でpanicしないようサーバー側では閉じない。
type Client struct {
	ID   string
	Send chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient は送信キューの上限付きでClientを生成する。
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 32
	}
	return &Client{
		ID:   id,
		Send: make(chan Event, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done はクライアント終了時に閉じられるチャネルを返す。
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close はクライアントの終了を通知する。複数回呼んでもよい。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
