package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/podpost/internal/model"
	"github.com/hitoshi/podpost/internal/repository"
	"github.com/hitoshi/podpost/internal/security"
)

// --- モック定義 ---

type mockProvider struct {
	loginFn  func(ctx context.Context, endpoint, username, password string) (*ProviderToken, error)
	signupFn func(ctx context.Context, endpoint, username, email, password string) (*ProviderToken, error)
}

func (m *mockProvider) Login(ctx context.Context, endpoint, username, password string) (*ProviderToken, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, endpoint, username, password)
	}
	return &ProviderToken{Token: "t", WebID: "https://pod.example.org/alice"}, nil
}

func (m *mockProvider) Signup(ctx context.Context, endpoint, username, email, password string) (*ProviderToken, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, endpoint, username, email, password)
	}
	return &ProviderToken{Token: "t", WebID: "https://pod.example.org/" + username, NewUser: true}, nil
}

// memUserRepo はWebID一意制約を再現するインメモリのUserRepository。
type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	findErr error
	creates int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*model.User{}}
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byID[id], nil
}

func (m *memUserRepo) FindByWebID(_ context.Context, webID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.byID {
		if u.WebID == webID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) CreateIfAbsent(_ context.Context, user *model.User) (*model.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.WebID == user.WebID {
			return u, false, nil
		}
	}
	copied := *user
	m.byID[user.ID] = &copied
	m.creates++
	return &copied, true, nil
}

func (m *memUserRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type memSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session
	createErr error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*model.Session{}}
}

func (m *memSessionRepo) Create(_ context.Context, session *model.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return s, nil
}

func (m *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

var (
	_ repository.UserRepository    = (*memUserRepo)(nil)
	_ repository.SessionRepository = (*memSessionRepo)(nil)
)

type serviceFixture struct {
	svc      *Service
	provider *mockProvider
	users    *memUserRepo
	sessions *memSessionRepo
	tokens   *TokenIssuer
}

func newFixture(cfg ServiceConfig) *serviceFixture {
	if cfg.SessionMaxAge == 0 {
		cfg.SessionMaxAge = 3600
	}
	f := &serviceFixture{
		provider: &mockProvider{},
		users:    newMemUserRepo(),
		sessions: newMemSessionRepo(),
		tokens:   NewTokenIssuer(testSecret),
	}
	f.svc = NewService(f.provider, security.NewSSRFGuard(false), f.tokens, f.users, f.sessions, nil, cfg)
	return f
}

func validCreds() Credentials {
	return Credentials{Username: "alice", Password: "pw", ProviderEndpoint: "https://pod.example.org/"}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %s, want %s", apiErr.Code, code)
	}
}

// --- Login ---

func TestLogin_FirstLoginCreatesUserAndSession(t *testing.T) {
	f := newFixture(ServiceConfig{})
	var gotEndpoint string
	f.provider.loginFn = func(_ context.Context, endpoint, username, password string) (*ProviderToken, error) {
		gotEndpoint = endpoint
		return &ProviderToken{Token: "pt", WebID: "https://pod.example.org/alice"}, nil
	}

	res, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if gotEndpoint != "https://pod.example.org" {
		t.Errorf("endpoint = %q, want trailing slash trimmed", gotEndpoint)
	}
	if !res.NewUser {
		t.Error("expected NewUser on first login")
	}
	if res.User.Name != "alice" || res.User.ProviderEndpoint != "https://pod.example.org" {
		t.Errorf("unexpected user: %+v", res.User)
	}

	claims, err := f.tokens.Parse(res.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.UserID() != res.User.ID || claims.SessionID != res.Session.ID {
		t.Errorf("claims do not match result: %+v", claims)
	}
	if claims.WebID != "https://pod.example.org/alice" {
		t.Errorf("webid claim = %q", claims.WebID)
	}

	if _, ok := f.sessions.sessions[res.Session.ID]; !ok {
		t.Error("session should be persisted")
	}
	wantExpiry := time.Now().Add(time.Hour)
	if d := res.Session.ExpiresAt.Sub(wantExpiry); d > time.Minute || d < -time.Minute {
		t.Errorf("ExpiresAt = %v, want about %v", res.Session.ExpiresAt, wantExpiry)
	}
}

func TestLogin_ExistingUserIsReused(t *testing.T) {
	f := newFixture(ServiceConfig{})

	first, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	second, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	if first.User.ID != second.User.ID {
		t.Errorf("user IDs differ: %s vs %s", first.User.ID, second.User.ID)
	}
	if second.NewUser {
		t.Error("second login should not create a user")
	}
	if first.Session.ID == second.Session.ID {
		t.Error("each login should create a new session")
	}
	if f.users.creates != 1 {
		t.Errorf("creates = %d, want 1", f.users.creates)
	}
}

// 同一WebIDの同時ログインでもユーザーは1件だけ作られる
func TestLogin_ConcurrentFirstLoginsCreateOneUser(t *testing.T) {
	f := newFixture(ServiceConfig{})

	const n = 10
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Login(context.Background(), validCreds())
			if err != nil {
				t.Errorf("Login() error = %v", err)
				return
			}
			ids <- res.User.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		} else if id != first {
			t.Errorf("got different user IDs %s and %s", first, id)
		}
	}
	if f.users.creates != 1 {
		t.Errorf("creates = %d, want 1", f.users.creates)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(ServiceConfig{})

	cases := []Credentials{
		{Password: "pw", ProviderEndpoint: "https://pod.example.org"},
		{Username: "alice", ProviderEndpoint: "https://pod.example.org"},
		{Username: "alice", Password: "pw"},
		{Username: "   ", Password: "pw", ProviderEndpoint: "https://pod.example.org"},
	}
	for _, c := range cases {
		_, err := f.svc.Login(context.Background(), c)
		assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
	}
}

func TestLoginAndSignup_UsernameLength(t *testing.T) {
	f := newFixture(ServiceConfig{})
	calls := 0
	f.provider.loginFn = func(context.Context, string, string, string) (*ProviderToken, error) {
		calls++
		return &ProviderToken{Token: "pt", WebID: "https://pod.example.org/alice"}, nil
	}
	f.provider.signupFn = func(context.Context, string, string, string, string) (*ProviderToken, error) {
		calls++
		return &ProviderToken{Token: "pt", WebID: "https://pod.example.org/alice"}, nil
	}

	tooLong := validCreds()
	tooLong.Username = strings.Repeat("あ", MaxUsernameLength+1)
	_, err := f.svc.Login(context.Background(), tooLong)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
	_, err = f.svc.Signup(context.Background(), SignupRequest{Credentials: tooLong, Email: "alice@example.org"})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
	if calls != 0 {
		t.Errorf("provider called %d times for an over-long username", calls)
	}

	// 上限ちょうどはマルチバイトでも受け付ける
	atLimit := validCreds()
	atLimit.Username = strings.Repeat("あ", MaxUsernameLength)
	if _, err := f.svc.Login(context.Background(), atLimit); err != nil {
		t.Errorf("username at the limit should be accepted, got %v", err)
	}
}

func TestLogin_InvalidProvider(t *testing.T) {
	f := newFixture(ServiceConfig{})
	called := false
	f.provider.loginFn = func(context.Context, string, string, string) (*ProviderToken, error) {
		called = true
		return nil, nil
	}

	for _, endpoint := range []string{"ftp://pod.example.org", "http://127.0.0.1:3000", "http://localhost", "https://pod.example.org:3000"} {
		creds := validCreds()
		creds.ProviderEndpoint = endpoint
		_, err := f.svc.Login(context.Background(), creds)
		assertAPIErrorCode(t, err, model.ErrCodeInvalidProvider)
	}
	if called {
		t.Error("provider must not be called for an invalid endpoint")
	}
}

func TestLogin_ProviderNotOnAllowList(t *testing.T) {
	f := newFixture(ServiceConfig{AllowedProviders: []string{"https://pods.example.com"}})

	_, err := f.svc.Login(context.Background(), validCreds())
	assertAPIErrorCode(t, err, model.ErrCodeInvalidProvider)

	creds := validCreds()
	creds.ProviderEndpoint = "https://PODS.example.com/"
	if _, err := f.svc.Login(context.Background(), creds); err != nil {
		t.Errorf("allow-listed provider should pass, got %v", err)
	}
}

func TestLogin_ProviderRejectsCredentials(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.provider.loginFn = func(context.Context, string, string, string) (*ProviderToken, error) {
		return nil, &ProviderRejectedError{StatusCode: 401, Message: "bad password"}
	}

	_, err := f.svc.Login(context.Background(), validCreds())
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestLogin_ProviderUnavailable(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.provider.loginFn = func(context.Context, string, string, string) (*ProviderToken, error) {
		return nil, ErrProviderUnavailable
	}

	_, err := f.svc.Login(context.Background(), validCreds())
	assertAPIErrorCode(t, err, model.ErrCodeProviderUnavailable)
}

func TestLogin_ProviderNonJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	users := newMemUserRepo()
	guard := security.NewSSRFGuard(true)
	svc := NewService(NewHTTPPodProvider(guard, 2*time.Second, 1<<20, nil), guard,
		NewTokenIssuer(testSecret), users, newMemSessionRepo(), nil, ServiceConfig{SessionMaxAge: 3600})

	_, err := svc.Login(context.Background(), Credentials{Username: "alice", Password: "pw", ProviderEndpoint: srv.URL})
	assertAPIErrorCode(t, err, model.ErrCodeProviderUnavailable)
	if users.creates != 0 {
		t.Error("no user should be created for an undecodable provider answer")
	}
}

func TestLogin_ResponseWithoutTokenOrWebID(t *testing.T) {
	for _, tok := range []*ProviderToken{
		{WebID: "https://pod.example.org/alice"},
		{Token: "pt"},
		{},
	} {
		f := newFixture(ServiceConfig{})
		f.provider.loginFn = func(context.Context, string, string, string) (*ProviderToken, error) {
			return tok, nil
		}

		_, err := f.svc.Login(context.Background(), validCreds())
		assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
		if f.users.creates != 0 {
			t.Error("no user should be created without a token")
		}
	}
}

func TestLogin_RepositoryErrorIsNotAPIError(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.users.findErr = errors.New("db down")

	_, err := f.svc.Login(context.Background(), validCreds())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository failures should not be client errors, got %v", apiErr)
	}
}

func TestLogin_SessionCreateFailure(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.sessions.createErr = errors.New("insert failed")

	if _, err := f.svc.Login(context.Background(), validCreds()); err == nil {
		t.Fatal("expected error when session cannot be stored")
	}
}

// --- Signup ---

func TestSignup_CreatesUser(t *testing.T) {
	f := newFixture(ServiceConfig{})
	var gotEmail string
	f.provider.signupFn = func(_ context.Context, _, username, email, _ string) (*ProviderToken, error) {
		gotEmail = email
		return &ProviderToken{Token: "pt", WebID: "https://pod.example.org/" + username, NewUser: true}, nil
	}

	res, err := f.svc.Signup(context.Background(), SignupRequest{
		Credentials: Credentials{Username: "bob", Password: "pw", ProviderEndpoint: "https://pod.example.org"},
		Email:       " bob@example.org ",
	})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if gotEmail != "bob@example.org" {
		t.Errorf("email = %q", gotEmail)
	}
	if res.User.WebID != "https://pod.example.org/bob" {
		t.Errorf("WebID = %q", res.User.WebID)
	}
	if !res.NewUser {
		t.Error("expected NewUser")
	}
}

func TestSignup_ExistingWebIDIsIdempotent(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.provider.signupFn = func(context.Context, string, string, string, string) (*ProviderToken, error) {
		return &ProviderToken{Token: "pt", WebID: "https://pod.example.org/alice"}, nil
	}

	login, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	signup, err := f.svc.Signup(context.Background(), SignupRequest{Credentials: validCreds(), Email: "alice@example.org"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if login.User.ID != signup.User.ID {
		t.Error("signup for an existing webId should reuse the user")
	}
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(ServiceConfig{})

	_, err := f.svc.Signup(context.Background(), SignupRequest{Credentials: validCreds()})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)

	_, err = f.svc.Signup(context.Background(), SignupRequest{Credentials: validCreds(), Email: "not-an-email"})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
}

func TestSignup_ProviderRejectionCarriesMessage(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.provider.signupFn = func(context.Context, string, string, string, string) (*ProviderToken, error) {
		return nil, &ProviderRejectedError{StatusCode: 400, Message: "username.already.exists"}
	}

	_, err := f.svc.Signup(context.Background(), SignupRequest{Credentials: validCreds(), Email: "alice@example.org"})
	assertAPIErrorCode(t, err, model.ErrCodeSignupRejected)

	var apiErr *model.APIError
	errors.As(err, &apiErr)
	if apiErr != nil && !strings.Contains(apiErr.Message, "username.already.exists") {
		t.Errorf("message %q should include provider reason", apiErr.Message)
	}
}

func TestSignup_ProviderUnavailable(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.provider.signupFn = func(context.Context, string, string, string, string) (*ProviderToken, error) {
		return nil, errors.New("dial tcp: timeout")
	}

	_, err := f.svc.Signup(context.Background(), SignupRequest{Credentials: validCreds(), Email: "alice@example.org"})
	assertAPIErrorCode(t, err, model.ErrCodeProviderUnavailable)
}

// --- Logout / Authenticate ---

func TestLogout_RevokesSession(t *testing.T) {
	f := newFixture(ServiceConfig{})
	res, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := f.svc.Authenticate(context.Background(), res.Token); err != nil {
		t.Fatalf("Authenticate() before logout error = %v", err)
	}

	if err := f.svc.Logout(context.Background(), res.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	_, err = f.svc.Authenticate(context.Background(), res.Token)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestLogout_ExpiredTokenStillDeletesSession(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.sessions.sessions["sess-old"] = &model.Session{ID: "sess-old", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	token, err := f.tokens.Issue("user-1", "sess-old", "w", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := f.svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := f.sessions.sessions["sess-old"]; ok {
		t.Error("session should be deleted")
	}
}

func TestLogout_InvalidTokenIsNotAnError(t *testing.T) {
	f := newFixture(ServiceConfig{})

	for _, tok := range []string{"", "garbage"} {
		if err := f.svc.Logout(context.Background(), tok); err != nil {
			t.Errorf("Logout(%q) error = %v, want nil", tok, err)
		}
	}
}

func TestAuthenticate_RejectsInvalidToken(t *testing.T) {
	f := newFixture(ServiceConfig{})

	_, err := f.svc.Authenticate(context.Background(), "garbage")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestAuthenticate_RejectsSubjectMismatch(t *testing.T) {
	f := newFixture(ServiceConfig{})
	f.sessions.sessions["sess-1"] = &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	token, _ := f.tokens.Issue("user-2", "sess-1", "w", time.Now().Add(time.Hour))

	_, err := f.svc.Authenticate(context.Background(), token)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// --- GetCurrentUser ---

func TestGetCurrentUser(t *testing.T) {
	f := newFixture(ServiceConfig{})
	res, err := f.svc.Login(context.Background(), validCreds())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	user, err := f.svc.GetCurrentUser(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != res.User.ID {
		t.Errorf("ID = %q, want %q", user.ID, res.User.ID)
	}

	_, err = f.svc.GetCurrentUser(context.Background(), "missing")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}
