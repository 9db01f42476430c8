// Package realtime は投稿イベントのWebSocketライブ配信を提供する。
package realtime

import (
	"time"

	"github.com/hitoshi/podpost/internal/model"
)

// イベント種別
const (
	TypePostCreated  = "post.created"
	TypePostDeleted  = "post.deleted"
	TypePostsRemoved = "posts.removed"
)

// PostPayload はイベントに含める投稿。
type PostPayload struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	AuthorWebID string    `json:"author_web_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event はクライアントへ送信するJSONメッセージ。
type Event struct {
	Type     string       `json:"type"`
	Post     *PostPayload `json:"post,omitempty"`
	PostID   string       `json:"post_id,omitempty"`
	AuthorID string       `json:"author_id,omitempty"`
	TS       time.Time    `json:"ts"`
}

func newPostPayload(p *model.PostWithAuthor) *PostPayload {
	return &PostPayload{
		ID:          p.ID,
		AuthorID:    p.AuthorID,
		AuthorName:  p.AuthorName,
		AuthorWebID: p.AuthorWebID,
		Content:     p.Content,
		CreatedAt:   p.CreatedAt,
	}
}
