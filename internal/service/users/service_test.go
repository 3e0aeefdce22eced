package users

import (
	"context"
	"database/sql"
	"testing"

	"studyhub/internal/apperr"
	"studyhub/internal/config"
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
	return db
}

func TestRegisterAndLogin(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, " alice ", "secret-pass")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" || user.ID == 0 {
		t.Fatalf("unexpected user %#v", user)
	}

	var stored string
	if err := db.QueryRow(`SELECT password_hash FROM users WHERE id = ?`, user.ID).Scan(&stored); err != nil {
		t.Fatalf("query hash: %v", err)
	}
	if stored == "secret-pass" {
		t.Fatalf("password stored in plaintext")
	}

	logged, err := svc.Login(ctx, "alice", "secret-pass")
	if err != nil || logged.ID != user.ID {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong-pass"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "secret-pass"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "", "secret-pass"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "bob", "123"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected short password rejection, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "bob", "secret-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "bob", "secret-pass"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "carol", "secret-pass")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
