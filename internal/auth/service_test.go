package auth

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/config"
	"studyhub/internal/redis"
	"studyhub/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, '', ?)`, name, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func countTokens(t *testing.T, db *sql.DB, userID int64) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE user_id = ?`, userID).Scan(&n); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	return n
}

func TestIssueTokenRejectsInvalidUser(t *testing.T) {
	svc := NewService(openTestDB(t), nil, time.Hour)
	for _, id := range []int64{0, -3} {
		if _, err := svc.IssueToken(context.Background(), id); !apperr.Is(err, apperr.KindInvalidArgument) {
			t.Fatalf("user %d: expected invalid argument, got %v", id, err)
		}
	}
}

func TestValidateTokenErrorKinds(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	if _, err := svc.ValidateToken(ctx, ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("empty token: expected unauthorized, got %v", err)
	}
	if _, err := svc.ValidateToken(ctx, "deadbeef"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("unknown token: expected unauthorized, got %v", err)
	}

	token, err := svc.IssueToken(ctx, alice)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 32 random bytes hex encoded, got %q", token)
	}
	got, err := svc.ValidateToken(ctx, token)
	if err != nil || got != alice {
		t.Fatalf("validate: id=%d err=%v", got, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("revoked token: expected unauthorized, got %v", err)
	}
	if err := svc.RevokeToken(ctx, ""); err != nil {
		t.Fatalf("revoking empty token should be a no-op, got %v", err)
	}
}

func TestExpiredTokenIsUnauthorizedAndPurged(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, 10*time.Millisecond)
	ctx := context.Background()
	bob := createUser(t, db, "bob")

	token, err := svc.IssueToken(ctx, bob)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, err = svc.ValidateToken(ctx, token)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if n := countTokens(t, db, bob); n != 0 {
		t.Fatalf("expired token not purged, %d left", n)
	}
}

func TestRevokeUserTokensOnlyTouchesThatUser(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	var aliceTokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.IssueToken(ctx, alice)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		aliceTokens = append(aliceTokens, token)
	}
	bobToken, err := svc.IssueToken(ctx, bob)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := svc.RevokeUserTokens(ctx, alice); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, token := range aliceTokens {
		if _, err := svc.ValidateToken(ctx, token); !apperr.Is(err, apperr.KindUnauthorized) {
			t.Fatalf("expected alice token revoked, got %v", err)
		}
	}
	if got, err := svc.ValidateToken(ctx, bobToken); err != nil || got != bob {
		t.Fatalf("bob's token should survive: id=%d err=%v", got, err)
	}
	if err := svc.RevokeUserTokens(ctx, 0); err != nil {
		t.Fatalf("invalid user should be a no-op, got %v", err)
	}
}

func TestRevokeUserTokensPurgesRedisKeys(t *testing.T) {
	db := openTestDB(t)
	cache := newRedisCacheClient(t)
	svc := NewService(db, cache, time.Hour)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	first, err := svc.IssueToken(ctx, alice)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := svc.IssueToken(ctx, alice)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	bobToken, err := svc.IssueToken(ctx, bob)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	raw := cache.Raw()
	for _, token := range []string{first, second} {
		got, err := raw.Get(ctx, redisTokenPrefix+token).Result()
		if err != nil || got != strconv.FormatInt(alice, 10) {
			t.Fatalf("token not cached: %q %v", got, err)
		}
	}

	if err := svc.RevokeUserTokens(ctx, alice); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	n, err := raw.Exists(ctx, redisTokenPrefix+first, redisTokenPrefix+second).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected cached tokens purged, %d left", n)
	}
	// a stale cache entry would let the token through without the database row
	if _, err := svc.ValidateToken(ctx, first); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized after purge, got %v", err)
	}
	if _, err := raw.Get(ctx, redisTokenPrefix+bobToken).Result(); err != nil {
		t.Fatalf("bob's cached token should survive: %v", err)
	}
}

func TestValidateTokenServedFromRedis(t *testing.T) {
	db := openTestDB(t)
	cache := newRedisCacheClient(t)
	svc := NewService(db, cache, time.Hour)
	ctx := context.Background()
	carol := createUser(t, db, "carol")

	token, err := svc.IssueToken(ctx, carol)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	if got, err := svc.ValidateToken(ctx, token); err != nil || got != carol {
		t.Fatalf("validate via cache: id=%d err=%v", got, err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized after revoke, got %v", err)
	}
}

func newRedisCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.Dial(addr, "", "", db)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	return client
}
