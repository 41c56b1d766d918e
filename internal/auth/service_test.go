package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/projecthub/internal/metrics"
	"github.com/hitoshi/projecthub/internal/model"
)

type mockProvider struct {
	buildAuthorizeURLFunc func(state string) string
	exchangeFunc          func(ctx context.Context, code string) (*TokenResponse, error)
	fetchUserInfoFunc     func(ctx context.Context, accessToken string) (*Profile, error)
	probePhotoFunc        func(ctx context.Context, userID string) (string, error)
}

func (m *mockProvider) BuildAuthorizeURL(state string) string {
	return m.buildAuthorizeURLFunc(state)
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	return m.exchangeFunc(ctx, code)
}

func (m *mockProvider) FetchUserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	return m.fetchUserInfoFunc(ctx, accessToken)
}

func (m *mockProvider) ProbePhoto(ctx context.Context, userID string) (string, error) {
	return m.probePhotoFunc(ctx, userID)
}

type mockUserRepo struct {
	findByIDFunc    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFunc func(ctx context.Context, email string) (*model.User, error)
	createFunc      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFunc(ctx, id)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.findByEmailFunc(ctx, email)
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return m.createFunc(ctx, user)
}

type mockVerifier struct {
	verifyFunc func(ctx context.Context, rawIDToken string) error
}

func (m *mockVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) error {
	return m.verifyFunc(ctx, rawIDToken)
}

// インメモリのユーザーレポジトリ。get-or-createの経路をまとめて検証する用。
func newMemoryUserRepo() (*mockUserRepo, map[string]*model.User) {
	store := map[string]*model.User{}
	repo := &mockUserRepo{
		findByIDFunc: func(_ context.Context, id string) (*model.User, error) {
			return store[id], nil
		},
		findByEmailFunc: func(_ context.Context, email string) (*model.User, error) {
			for _, u := range store {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, nil
		},
		createFunc: func(_ context.Context, user *model.User) error {
			store[user.ID] = user
			return nil
		},
	}
	return repo, store
}

func newTestService(t *testing.T, provider *mockProvider, users *mockUserRepo, verifier IDTokenVerifier) *Service {
	t.Helper()
	return NewService(
		provider,
		NewMemoryStateStore(time.Minute),
		users,
		NewTokenCodec("test-secret-key-for-sessions", time.Hour),
		verifier,
		metrics.NewCollector(prometheus.NewRegistry()),
		ServiceConfig{FrontendURL: "https://app.example.com"},
	)
}

func happyProvider() *mockProvider {
	return &mockProvider{
		buildAuthorizeURLFunc: func(state string) string {
			return "https://login.example.com/authorize?state=" + state
		},
		exchangeFunc: func(_ context.Context, code string) (*TokenResponse, error) {
			if code != "valid-code" {
				return nil, model.ErrUpstreamAuth
			}
			return &TokenResponse{AccessToken: "access-token", IDToken: "id-token"}, nil
		},
		fetchUserInfoFunc: func(_ context.Context, _ string) (*Profile, error) {
			return &Profile{
				ID:          "oid-1234",
				Mail:        "taro@example.com",
				DisplayName: "山田太郎",
			}, nil
		},
		probePhotoFunc: func(_ context.Context, _ string) (string, error) {
			return "", nil
		},
	}
}

func okVerifier() *mockVerifier {
	return &mockVerifier{verifyFunc: func(_ context.Context, _ string) error { return nil }}
}

// ログイン開始でstate付きの認可URLが返ることを検証
func TestService_StartLogin(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	authURL, err := svc.StartLogin(context.Background(), RequestMeta{RemoteIP: "10.0.0.1"}, "")
	if err != nil {
		t.Fatalf("StartLogin failed: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("invalid authorize URL: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Error("authorize URL has no state parameter")
	}
	// 32バイトのエントロピーをbase64urlで符号化すると43文字
	if len(state) < 43 {
		t.Errorf("state too short: %d chars", len(state))
	}
}

type failingStateStore struct{}

func (failingStateStore) Issue(context.Context, string) (string, error) {
	return "", errors.New("state store unavailable")
}

func (failingStateStore) Consume(context.Context, string) (string, error) {
	return "", errors.New("state store unavailable")
}

// state発行失敗がserver_errorとしてoutcomeカウンターに計上されることを検証
func TestService_StartLogin_FailureRecordsServerError(t *testing.T) {
	users, _ := newMemoryUserRepo()
	reg := prometheus.NewRegistry()
	svc := NewService(
		happyProvider(),
		failingStateStore{},
		users,
		NewTokenCodec("test-secret-key-for-sessions", time.Hour),
		okVerifier(),
		metrics.NewCollector(reg),
		ServiceConfig{FrontendURL: "https://app.example.com"},
	)

	if _, err := svc.StartLogin(context.Background(), RequestMeta{}, ""); err == nil {
		t.Fatal("expected error from StartLogin")
	}

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `projecthub_login_outcome_total{outcome="server_error"} 1`) {
		t.Errorf("server_error outcome was not recorded:\n%s", body)
	}
}

// コールバックの成功経路: ユーザー作成とトークン付きリダイレクトを検証
func TestService_HandleCallback_Success(t *testing.T) {
	users, store := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())
	ctx := context.Background()

	authURL, err := svc.StartLogin(ctx, RequestMeta{}, "https://app.example.com/dashboard")
	if err != nil {
		t.Fatalf("StartLogin failed: %v", err)
	}
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	redirect := svc.HandleCallback(ctx, RequestMeta{}, CallbackParams{
		Code:  "valid-code",
		State: state,
	})

	ru, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("invalid redirect URL: %v", err)
	}
	if ru.Path != "/dashboard" {
		t.Errorf("redirect path = %q, want /dashboard", ru.Path)
	}
	token := ru.Query().Get("token")
	if token == "" {
		t.Fatal("redirect has no token parameter")
	}

	// 発行されたトークンはローカルユーザーに解決できる
	user, err := svc.AuthenticateToken(ctx, token)
	if err != nil {
		t.Fatalf("AuthenticateToken failed: %v", err)
	}
	if user.ID != "oid-1234" {
		t.Errorf("user ID = %q, want oid-1234", user.ID)
	}
	if user.Role != model.RoleUser {
		t.Errorf("role = %q, want %q", user.Role, model.RoleUser)
	}

	if store["oid-1234"] == nil {
		t.Error("user was not persisted")
	}
	if store["oid-1234"].Email != "taro@example.com" {
		t.Errorf("persisted email = %q", store["oid-1234"].Email)
	}
}

// プロバイダーからのエラーはエラーコードそのままでリダイレクトされることを検証
func TestService_HandleCallback_ProviderError(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	redirect := svc.HandleCallback(context.Background(), RequestMeta{}, CallbackParams{
		Error:            "access_denied",
		ErrorDescription: "user cancelled",
	})

	ru, _ := url.Parse(redirect)
	if ru.Path != "/login" {
		t.Errorf("redirect path = %q, want /login", ru.Path)
	}
	if got := ru.Query().Get("error"); got != "access_denied" {
		t.Errorf("error = %q, want access_denied", got)
	}
	if got := ru.Query().Get("error_description"); got != "user cancelled" {
		t.Errorf("error_description = %q", got)
	}
}

// 未発行stateのコールバックはinvalid_stateで拒否されることを検証
func TestService_HandleCallback_UnknownState(t *testing.T) {
	users, store := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	redirect := svc.HandleCallback(context.Background(), RequestMeta{}, CallbackParams{
		Code:  "valid-code",
		State: "forged-state",
	})

	ru, _ := url.Parse(redirect)
	if got := ru.Query().Get("error"); got != OutcomeInvalidState {
		t.Errorf("error = %q, want %q", got, OutcomeInvalidState)
	}
	if len(store) != 0 {
		t.Error("user must not be created on invalid state")
	}
}

// 同じstateの再利用が拒否されることを検証（リプレイ防止）
func TestService_HandleCallback_StateReplay(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())
	ctx := context.Background()

	authURL, _ := svc.StartLogin(ctx, RequestMeta{}, "")
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	params := CallbackParams{Code: "valid-code", State: state}
	first := svc.HandleCallback(ctx, RequestMeta{}, params)
	if fu, _ := url.Parse(first); fu.Query().Get("token") == "" {
		t.Fatal("first callback should succeed")
	}

	second := svc.HandleCallback(ctx, RequestMeta{}, params)
	su, _ := url.Parse(second)
	if got := su.Query().Get("error"); got != OutcomeInvalidState {
		t.Errorf("replayed callback error = %q, want %q", got, OutcomeInvalidState)
	}
}

// トークン交換失敗はauthentication_failedに写像されることを検証
func TestService_HandleCallback_ExchangeFailure(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())
	ctx := context.Background()

	authURL, _ := svc.StartLogin(ctx, RequestMeta{}, "")
	u, _ := url.Parse(authURL)

	redirect := svc.HandleCallback(ctx, RequestMeta{}, CallbackParams{
		Code:  "bad-code",
		State: u.Query().Get("state"),
	})

	ru, _ := url.Parse(redirect)
	if got := ru.Query().Get("error"); got != OutcomeAuthFailed {
		t.Errorf("error = %q, want %q", got, OutcomeAuthFailed)
	}
	if ru.Query().Get("error_description") == "" {
		t.Error("error_description should be set")
	}
}

// id_token検証の失敗でログインが中断されることを検証
func TestService_HandleCallback_IDTokenRejected(t *testing.T) {
	users, store := newMemoryUserRepo()
	verifier := &mockVerifier{verifyFunc: func(_ context.Context, _ string) error {
		return model.ErrUpstreamAuth
	}}
	svc := newTestService(t, happyProvider(), users, verifier)
	ctx := context.Background()

	authURL, _ := svc.StartLogin(ctx, RequestMeta{}, "")
	u, _ := url.Parse(authURL)

	redirect := svc.HandleCallback(ctx, RequestMeta{}, CallbackParams{
		Code:  "valid-code",
		State: u.Query().Get("state"),
	})

	ru, _ := url.Parse(redirect)
	if got := ru.Query().Get("error"); got != OutcomeAuthFailed {
		t.Errorf("error = %q, want %q", got, OutcomeAuthFailed)
	}
	if len(store) != 0 {
		t.Error("user must not be created when id token is rejected")
	}
}

// ID欠落プロフィールはauthentication_failed、DB障害はserver_errorになることを検証
func TestService_HandleCallback_FailureMapping(t *testing.T) {
	tests := []struct {
		name      string
		provider  *mockProvider
		users     *mockUserRepo
		wantError string
	}{
		{
			name: "profile without id",
			provider: func() *mockProvider {
				p := happyProvider()
				p.fetchUserInfoFunc = func(_ context.Context, _ string) (*Profile, error) {
					return &Profile{DisplayName: "no id"}, nil
				}
				return p
			}(),
			users:     func() *mockUserRepo { r, _ := newMemoryUserRepo(); return r }(),
			wantError: OutcomeAuthFailed,
		},
		{
			name:     "database failure",
			provider: happyProvider(),
			users: &mockUserRepo{
				findByIDFunc: func(_ context.Context, _ string) (*model.User, error) {
					return nil, errors.New("connection refused")
				},
				findByEmailFunc: func(_ context.Context, _ string) (*model.User, error) { return nil, nil },
				createFunc:      func(_ context.Context, _ *model.User) error { return nil },
			},
			wantError: OutcomeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.provider, tt.users, okVerifier())
			ctx := context.Background()

			authURL, _ := svc.StartLogin(ctx, RequestMeta{}, "")
			u, _ := url.Parse(authURL)

			redirect := svc.HandleCallback(ctx, RequestMeta{}, CallbackParams{
				Code:  "valid-code",
				State: u.Query().Get("state"),
			})

			ru, _ := url.Parse(redirect)
			if got := ru.Query().Get("error"); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
			if !strings.HasPrefix(redirect, "https://app.example.com/login?") {
				t.Errorf("failure must redirect to login page, got %q", redirect)
			}
		})
	}
}

// 既存ユーザーの再ログインで新規作成されないことを検証（冪等性）
func TestService_GetOrCreate_Idempotent(t *testing.T) {
	users, store := newMemoryUserRepo()
	creates := 0
	inner := users.createFunc
	users.createFunc = func(ctx context.Context, u *model.User) error {
		creates++
		return inner(ctx, u)
	}
	svc := newTestService(t, happyProvider(), users, okVerifier())
	ctx := context.Background()

	profile := &Profile{ID: "oid-1", Mail: "a@example.com", DisplayName: "A"}
	first, err := svc.GetOrCreate(ctx, profile)
	if err != nil {
		t.Fatalf("first GetOrCreate failed: %v", err)
	}
	second, err := svc.GetOrCreate(ctx, profile)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}

	if creates != 1 {
		t.Errorf("Create called %d times, want 1", creates)
	}
	if first.ID != second.ID {
		t.Errorf("IDs differ: %q vs %q", first.ID, second.ID)
	}
	if len(store) != 1 {
		t.Errorf("store has %d users, want 1", len(store))
	}
}

// mailが空のプロフィールはuserPrincipalNameにフォールバックすることを検証
func TestService_GetOrCreate_EmailFallback(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	user, err := svc.GetOrCreate(context.Background(), &Profile{
		ID:                "oid-2",
		UserPrincipalName: "upn@example.com",
		DisplayName:       "UPN User",
	})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if user.Email != "upn@example.com" {
		t.Errorf("email = %q, want upn@example.com", user.Email)
	}
}

// 削除済みユーザーのトークンは401相当になることを検証
func TestService_AuthenticateToken_DeletedUser(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	codec := NewTokenCodec("test-secret-key-for-sessions", time.Hour)
	token, err := codec.Mint(&model.User{ID: "gone", Email: "gone@example.com", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	_, err = svc.AuthenticateToken(context.Background(), token)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// 不正なトークン文字列が拒否されることを検証
func TestService_AuthenticateToken_Garbage(t *testing.T) {
	users, _ := newMemoryUserRepo()
	svc := newTestService(t, happyProvider(), users, okVerifier())

	_, err := svc.AuthenticateToken(context.Background(), "not-a-jwt")
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// 写真プローブの失敗が空文字列に縮退することを検証
func TestService_PhotoURL(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, userID string) (string, error)
		want string
	}{
		{
			name: "found",
			fn:   func(_ context.Context, id string) (string, error) { return "https://g/photo/" + id, nil },
			want: "https://g/photo/u1",
		},
		{
			name: "no photo",
			fn:   func(_ context.Context, _ string) (string, error) { return "", nil },
			want: "",
		},
		{
			name: "probe error degrades to empty",
			fn:   func(_ context.Context, _ string) (string, error) { return "", errors.New("timeout") },
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, _ := newMemoryUserRepo()
			provider := happyProvider()
			provider.probePhotoFunc = tt.fn
			svc := newTestService(t, provider, users, okVerifier())

			if got := svc.PhotoURL(context.Background(), "u1"); got != tt.want {
				t.Errorf("PhotoURL = %q, want %q", got, tt.want)
			}
		})
	}
}

// 初期管理者シードの作成・スキップを検証
func TestService_EnsureAdmin(t *testing.T) {
	t.Run("creates admin when missing", func(t *testing.T) {
		users, store := newMemoryUserRepo()
		svc := newTestService(t, happyProvider(), users, okVerifier())

		if err := svc.EnsureAdmin(context.Background(), "admin@example.com", "管理者"); err != nil {
			t.Fatalf("EnsureAdmin failed: %v", err)
		}

		admin := store["admin"]
		if admin == nil {
			t.Fatal("admin user not created")
		}
		if admin.Role != model.RoleAdmin {
			t.Errorf("role = %q, want %q", admin.Role, model.RoleAdmin)
		}
	})

	t.Run("skips when already exists", func(t *testing.T) {
		users, store := newMemoryUserRepo()
		store["admin"] = &model.User{ID: "admin", Email: "admin@example.com", Role: model.RoleAdmin}
		creates := 0
		users.createFunc = func(_ context.Context, _ *model.User) error {
			creates++
			return nil
		}
		svc := newTestService(t, happyProvider(), users, okVerifier())

		if err := svc.EnsureAdmin(context.Background(), "admin@example.com", "管理者"); err != nil {
			t.Fatalf("EnsureAdmin failed: %v", err)
		}
		if creates != 0 {
			t.Errorf("Create called %d times, want 0", creates)
		}
	})

	t.Run("noop with empty email", func(t *testing.T) {
		users, store := newMemoryUserRepo()
		svc := newTestService(t, happyProvider(), users, okVerifier())

		if err := svc.EnsureAdmin(context.Background(), "", ""); err != nil {
			t.Fatalf("EnsureAdmin failed: %v", err)
		}
		if len(store) != 0 {
			t.Error("no user should be created with empty email")
		}
	})
}
