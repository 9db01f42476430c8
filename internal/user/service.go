// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/podpost/internal/model"
	"github.com/hitoshi/podpost/internal/repository"
)

// PostDeleter は投稿の一括削除インターフェース。
type PostDeleter interface {
	DeleteByAuthorID(ctx context.Context, authorID string) error
}

// RemovalPublisher は退会ユーザーの投稿消去をライブストリームへ通知するインターフェース。
type RemovalPublisher interface {
	PublishPostsRemoved(authorID string)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	postDeleter PostDeleter
	publisher   RemovalPublisher
}

// NewService はServiceの新しいインスタンスを生成する。publisherはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	postDeleter PostDeleter,
	publisher RemovalPublisher,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		postDeleter: postDeleter,
		publisher:   publisher,
	}
}

// Profile は公開プロフィール用にユーザーを取得する。
// IDがUUIDでない場合も存在しないユーザーとして扱う。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, model.NewUserNotFoundError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: posts → sessions → user
// セッションを消すことで発行済みトークンも無効になる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 投稿を削除
	if s.postDeleter != nil {
		if err := s.postDeleter.DeleteByAuthorID(ctx, userID); err != nil {
			return fmt.Errorf("投稿の削除に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if s.publisher != nil {
		s.publisher.PublishPostsRemoved(userID)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
