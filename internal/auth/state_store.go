package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"

	"github.com/hitoshi/projecthub/internal/model"
)

// StateStore はCSRF対策stateの使い捨てストレージ。
// Issueで発行したstateはConsumeでちょうど1回だけ消費でき、
// TTL経過後は自動的に失効する。プロセス再起動をまたぐ永続性は
// 要求しない（複数インスタンス構成ではRedis実装を使うこと）。
type StateStore interface {
	// Issue はランダムなstateを生成し、リダイレクト先と紐付けて保存する。
	Issue(ctx context.Context, redirectURI string) (string, error)

	// Consume はstateを原子的に削除しつつ、紐付いたリダイレクト先を返す。
	// 未発行・消費済み・期限切れのstateはmodel.ErrInvalidStateを返す。
	Consume(ctx context.Context, state string) (string, error)
}

// generateState は暗号的に安全なURLセーフのstate値を生成する（32バイトのエントロピー）。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MemoryStateStore はプロセス内メモリのStateStore実装。
// 単一インスタンスデプロイ向け。TTL経過エントリは自動削除される。
type MemoryStateStore struct {
	// go-cacheのGet+Deleteを1ステップにするためのロック。
	// 2つの並行コールバックが同じstateを二重消費する競合を閉じる。
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryStateStore はMemoryStateStoreを生成する。
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		c: gocache.New(ttl, time.Minute),
	}
}

// Issue はランダムなstateを生成し、リダイレクト先と紐付けて保存する。
func (s *MemoryStateStore) Issue(_ context.Context, redirectURI string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	s.c.Set(state, redirectURI, gocache.DefaultExpiration)
	return state, nil
}

// Consume はstateを原子的に削除しつつ、紐付いたリダイレクト先を返す。
func (s *MemoryStateStore) Consume(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(state)
	if !ok {
		return "", fmt.Errorf("state %q not found: %w", state, model.ErrInvalidState)
	}
	s.c.Delete(state)

	redirectURI, _ := v.(string)
	return redirectURI, nil
}

// RedisStateStore はRedisを使用したStateStore実装。
// 複数インスタンスデプロイでコールバックが別インスタンスに届く構成向け。
type RedisStateStore struct {
	client *rdb.Client
	ttl    time.Duration
}

const redisStateKeyPrefix = "oauth_state:"

// NewRedisStateStore はRedisStateStoreを生成する。
func NewRedisStateStore(addr string, db int, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{
		client: rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		ttl:    ttl,
	}
}

// Issue はランダムなstateを生成し、リダイレクト先と紐付けてTTL付きで保存する。
func (s *RedisStateStore) Issue(ctx context.Context, redirectURI string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	if err := s.client.Set(ctx, redisStateKeyPrefix+state, redirectURI, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	return state, nil
}

// Consume はGETDELでstateを原子的に消費し、紐付いたリダイレクト先を返す。
func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	redirectURI, err := s.client.GetDel(ctx, redisStateKeyPrefix+state).Result()
	if err == rdb.Nil {
		return "", fmt.Errorf("state %q not found: %w", state, model.ErrInvalidState)
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume state: %w", err)
	}

	return redirectURI, nil
}

// Close はRedis接続を閉じる。
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// compile-time interface checks
var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
