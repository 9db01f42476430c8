package model

import "time"

// Post はユーザーの投稿を表す。
type Post struct {
	ID        string    `db:"id"`
	AuthorID  string    `db:"author_id"`
	Content   string    `db:"content"` // サニタイズ済みHTML
	CreatedAt time.Time `db:"created_at"`
}

// PostWithAuthor は投稿と投稿者情報を結合したモデル。
// usersテーブルとJOINして取得される。
type PostWithAuthor struct {
	Post
	AuthorName  string `db:"author_name"`
	AuthorWebID string `db:"author_web_id"`
}

// PostCursor は投稿一覧のキーセット位置。
// 同じcreated_atの投稿はIDの降順で並ぶため、IDも位置に含める。
type PostCursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero は先頭ページを指すカーソルかを返す。
func (c PostCursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

// Admits はpがカーソル以降のページに含まれるかを返す。
func (c PostCursor) Admits(p Post) bool {
	if c.IsZero() {
		return true
	}
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID < c.ID
	}
	return p.CreatedAt.Before(c.CreatedAt)
}
