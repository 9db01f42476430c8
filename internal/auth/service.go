// Package auth はPodプロバイダーへの認証委譲とセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/podpost/internal/metrics"
	"github.com/hitoshi/podpost/internal/model"
	"github.com/hitoshi/podpost/internal/repository"
	"github.com/hitoshi/podpost/internal/security"
)

// Credentials はログイン要求。
type Credentials struct {
	Username         string
	Password         string
	ProviderEndpoint string
}

// SignupRequest はサインアップ要求。
type SignupRequest struct {
	Credentials
	Email string
}

// Result はログイン/サインアップ成功時の結果。
type Result struct {
	User    *model.User
	Session *model.Session
	Token   string
	// NewUser はこのリクエストでローカルユーザーが作成された場合にtrue。
	NewUser bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge    int      // セッション有効期間（秒）
	AllowedProviders []string // 空の場合は任意の公開プロバイダーを許可
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    PodProvider
	guard       security.SSRFGuardService
	tokens      *TokenIssuer
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。mはnilでもよい。
func NewService(
	provider PodProvider,
	guard security.SSRFGuardService,
	tokens *TokenIssuer,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		provider:    provider,
		guard:       guard,
		tokens:      tokens,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     m,
		config:      config,
		now:         time.Now,
	}
}

// MaxUsernameLength はusers.nameの列長 (VARCHAR(255)) に合わせたユーザー名の上限文字数。
const MaxUsernameLength = 255

func checkUsernameLength(username string) error {
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return model.NewInvalidRequestError(fmt.Sprintf("username must be at most %d characters", MaxUsernameLength))
	}
	return nil
}

// Login はプロバイダーで資格情報を検証し、ローカルセッションを発行する。
// 初回ログイン時はWebIDに対応するユーザーを作成する。
func (s *Service) Login(ctx context.Context, creds Credentials) (*Result, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" || strings.TrimSpace(creds.ProviderEndpoint) == "" {
		return nil, model.NewInvalidRequestError("username, password and provider are required")
	}
	if err := checkUsernameLength(username); err != nil {
		return nil, err
	}

	endpoint, err := s.validateEndpoint(creds.ProviderEndpoint)
	if err != nil {
		return nil, err
	}

	token, err := s.provider.Login(ctx, endpoint, username, creds.Password)
	if err != nil {
		apiErr := s.translateProviderError("login", endpoint, err)
		s.recordLogin(outcomeFor(apiErr))
		return nil, apiErr
	}
	if token.Token == "" || token.WebID == "" {
		slog.Warn("provider response lacks token or webId",
			slog.String("operation", "login"),
			slog.String("provider", endpoint),
		)
		s.recordLogin(metrics.OutcomeInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}

	result, err := s.establish(ctx, username, token.WebID, endpoint)
	if err != nil {
		return nil, err
	}
	s.recordLogin(metrics.OutcomeSuccess)

	slog.Info("user logged in",
		slog.String("user_id", result.User.ID),
		slog.String("provider", endpoint),
		slog.Bool("new_user", result.NewUser),
	)
	return result, nil
}

// Signup はプロバイダーにアカウントを作成し、Loginと同様にセッションを発行する。
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Result, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" || strings.TrimSpace(req.ProviderEndpoint) == "" {
		return nil, model.NewInvalidRequestError("username, email, password and provider are required")
	}
	if err := checkUsernameLength(username); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidRequestError("email is malformed")
	}

	endpoint, err := s.validateEndpoint(req.ProviderEndpoint)
	if err != nil {
		return nil, err
	}

	token, err := s.provider.Signup(ctx, endpoint, username, email, req.Password)
	if err != nil {
		apiErr := s.translateProviderError("signup", endpoint, err)
		s.recordSignup(outcomeFor(apiErr))
		return nil, apiErr
	}
	if token.Token == "" || token.WebID == "" {
		slog.Warn("provider response lacks token or webId",
			slog.String("operation", "signup"),
			slog.String("provider", endpoint),
		)
		s.recordSignup(metrics.OutcomeInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}

	result, err := s.establish(ctx, username, token.WebID, endpoint)
	if err != nil {
		return nil, err
	}
	s.recordSignup(metrics.OutcomeSuccess)

	slog.Info("user signed up",
		slog.String("user_id", result.User.ID),
		slog.String("provider", endpoint),
		slog.Bool("new_user", result.NewUser),
	)
	return result, nil
}

// Logout はトークンに対応するセッションを破棄する。
// 期限切れのトークンも受け付ける。不正なトークンは何もせずnilを返す。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	claims, err := s.tokens.ParseAllowExpired(token)
	if err != nil {
		slog.Debug("logout with unverifiable token", slog.String("error", err.Error()))
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out",
		slog.String("user_id", claims.UserID()),
		slog.String("session_id", claims.SessionID),
	)
	return nil
}

// Authenticate はトークンを検証し、有効なセッションを返す。
// 署名・有効期限に加えてセッション行の存在を確認するため、ログアウト済みのトークンは拒否される。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.UserID() {
		return nil, model.NewUnauthorizedError()
	}

	return session, nil
}

// GetCurrentUser は指定ユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// validateEndpoint はプロバイダーURLを正規化し、SSRF検証と許可リスト照合を行う。
func (s *Service) validateEndpoint(raw string) (string, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(raw), "/")

	if err := s.guard.ValidateURL(endpoint); err != nil {
		return "", model.NewInvalidProviderError(err.Error())
	}

	if len(s.config.AllowedProviders) > 0 {
		allowed := false
		for _, p := range s.config.AllowedProviders {
			if strings.EqualFold(p, endpoint) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", model.NewInvalidProviderError("provider is not on the allow list")
		}
	}

	return endpoint, nil
}

// translateProviderError はプロバイダー呼び出しのエラーをAPIErrorに変換する。
func (s *Service) translateProviderError(op, endpoint string, err error) *model.APIError {
	var rejected *ProviderRejectedError
	if errors.As(err, &rejected) {
		slog.Info("provider rejected request",
			slog.String("operation", op),
			slog.String("provider", endpoint),
			slog.Int("status", rejected.StatusCode),
		)
		if op == "signup" {
			return model.NewSignupRejectedError(rejected.Message)
		}
		return model.NewInvalidCredentialsError()
	}

	slog.Error("provider call failed",
		slog.String("operation", op),
		slog.String("provider", endpoint),
		slog.String("error", err.Error()),
	)
	return model.NewProviderUnavailableError()
}

// establish はユーザーを確保し、セッションとトークンを発行する。
func (s *Service) establish(ctx context.Context, name, webID, endpoint string) (*Result, error) {
	user, created, err := s.provisionUser(ctx, name, webID, endpoint)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, session.ID, user.WebID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &Result{User: user, Session: session, Token: token, NewUser: created}, nil
}

// provisionUser はWebIDのユーザーを取得し、存在しなければ作成する。
// 同時ログインで作成が競合した場合は先に作成された行を使う。
func (s *Service) provisionUser(ctx context.Context, name, webID, endpoint string) (*model.User, bool, error) {
	existing, err := s.userRepo.FindByWebID(ctx, webID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.now()
	user := &model.User{
		ID:               uuid.New().String(),
		Name:             name,
		WebID:            webID,
		ProviderEndpoint: endpoint,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	stored, created, err := s.userRepo.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	if created {
		slog.Info("new user created",
			slog.String("user_id", stored.ID),
			slog.String("web_id", webID),
		)
	}
	return stored, created, nil
}

func (s *Service) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(outcome)
	}
}

func (s *Service) recordSignup(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSignup(outcome)
	}
}

func outcomeFor(err *model.APIError) string {
	switch err.Code {
	case model.ErrCodeInvalidCredentials:
		return metrics.OutcomeInvalidCredentials
	case model.ErrCodeSignupRejected:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeProviderError
	}
}
