package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/repositories"
	"github.com/desertthunder/moviesnow/internal/shared"
	tu "github.com/desertthunder/moviesnow/internal/testing"
)

func setupReconciler(t *testing.T) (*Reconciler, *repositories.CacheRepository) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	repo := repositories.NewCacheRepository(db)
	return NewReconciler(repo, nil, nil), repo
}

func put(t *testing.T, repo *repositories.CacheRepository, key, value string) {
	t.Helper()
	if _, err := repo.Put(key, json.RawMessage(value)); err != nil {
		t.Fatalf("failed to seed %s: %v", key, err)
	}
}

func stale(t *testing.T, repo *repositories.CacheRepository, key string) bool {
	t.Helper()
	entry, err := repo.Get(key)
	if err != nil {
		t.Fatalf("failed to read %s: %v", key, err)
	}
	return entry.Stale
}

func TestReconciler(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke-trusted-devices rewrites the list and undo restores it", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyTrustedDevices, `[{"id":"d1"},{"id":"d2"}]`)

		undo, err := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-trusted-devices"})
		if err != nil {
			t.Fatalf("Optimistic failed: %v", err)
		}

		entry, _ := repo.Get(KeyTrustedDevices)
		if string(entry.Value) != `[]` {
			t.Errorf("expected optimistic empty list, got %s", entry.Value)
		}

		if err := undo(ctx); err != nil {
			t.Fatalf("undo failed: %v", err)
		}
		entry, _ = repo.Get(KeyTrustedDevices)
		if string(entry.Value) != `[{"id":"d1"},{"id":"d2"}]` {
			t.Errorf("expected original list, got %s", entry.Value)
		}
	})

	t.Run("undo of a previously missing key deletes it", func(t *testing.T) {
		r, repo := setupReconciler(t)

		undo, err := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-trusted-devices"})
		if err != nil || undo == nil {
			t.Fatalf("expected undo, got %v", err)
		}
		if err := undo(ctx); err != nil {
			t.Fatalf("undo failed: %v", err)
		}
		if _, err := repo.Get(KeyTrustedDevices); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected cache miss, got %v", err)
		}
	})

	t.Run("undo keeps a later write", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyTrustedDevices, `[{"id":"d1"}]`)

		undo, _ := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-trusted-devices"})
		put(t, repo, KeyTrustedDevices, `[{"id":"d9"}]`)

		if err := undo(ctx); err != nil {
			t.Fatalf("undo failed: %v", err)
		}
		entry, _ := repo.Get(KeyTrustedDevices)
		if string(entry.Value) != `[{"id":"d9"}]` {
			t.Errorf("expected the later write to win, got %s", entry.Value)
		}
	})

	t.Run("revoke-session removes the session by id", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeySessionList, `[{"id":"s1","current":true},{"id":"s2","current":false}]`)

		_, err := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-session", Params: map[string]string{"id": "s2"}})
		if err != nil {
			t.Fatalf("Optimistic failed: %v", err)
		}

		var sessions []models.AccountSession
		if _, err := r.Get(KeySessionList, &sessions); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(sessions) != 1 || sessions[0].ID != "s1" {
			t.Errorf("expected only s1 to remain, got %+v", sessions)
		}
	})

	t.Run("revoke-session without a cached list is a no-op", func(t *testing.T) {
		r, _ := setupReconciler(t)
		undo, err := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-session", Params: map[string]string{"id": "s2"}})
		if err != nil || undo != nil {
			t.Errorf("expected no change, got undo=%v err=%v", undo != nil, err)
		}
	})

	t.Run("password reset invalidates the session but not the device list", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyAuthSession, `{"user":"u1"}`)
		put(t, repo, KeyTrustedDevices, `[{"id":"d1"}]`)

		if err := r.Settle(ctx, mutation.Outcome{Mutation: mutation.Mutation{Op: "confirm-password-reset"}}); err != nil {
			t.Fatalf("Settle failed: %v", err)
		}

		if !stale(t, repo, KeyAuthSession) {
			t.Error("expected auth:session to be stale")
		}
		if stale(t, repo, KeyTrustedDevices) {
			t.Error("expected devices:trusted to stay fresh")
		}
	})

	t.Run("account deletion invalidates by prefix", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyAccountProfile, `{}`)
		put(t, repo, KeyMFAStatus, `{}`)
		put(t, repo, "other:key", `{}`)

		if err := r.Settle(ctx, mutation.Outcome{Mutation: mutation.Mutation{Op: "delete-account"}}); err != nil {
			t.Fatalf("Settle failed: %v", err)
		}

		if !stale(t, repo, KeyAccountProfile) || !stale(t, repo, KeyMFAStatus) {
			t.Error("expected account and mfa keys to be stale")
		}
		if stale(t, repo, "other:key") {
			t.Error("expected unrelated key to stay fresh")
		}
	})

	t.Run("queries store fresh results", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyMFAStatus, `{"enabled":false}`)
		r.Invalidate(KeyMFAStatus)

		result := models.MFAStatus{Enabled: true, Method: "totp", RemainingCodes: 8}
		if err := r.Settle(ctx, mutation.Outcome{Mutation: mutation.Mutation{Op: "mfa-status"}, Result: result}); err != nil {
			t.Fatalf("Settle failed: %v", err)
		}

		var got models.MFAStatus
		isStale, err := r.Get(KeyMFAStatus, &got)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if isStale || got != result {
			t.Errorf("expected fresh %+v, got %+v (stale=%v)", result, got, isStale)
		}
	})

	t.Run("terminal failures leave the cache alone", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyMFAStatus, `{}`)

		err := r.Settle(ctx, mutation.Outcome{
			Mutation: mutation.Mutation{Op: "mfa-verify"},
			Err:      &mutation.Error{Kind: mutation.TerminalClientError},
		})
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if stale(t, repo, KeyMFAStatus) {
			t.Error("expected mfa:status to stay fresh")
		}
	})

	t.Run("ambiguous failures invalidate", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeyTrustedDevices, `[]`)
		put(t, repo, KeyDeviceStatus, `{}`)

		err := r.Settle(ctx, mutation.Outcome{
			Mutation: mutation.Mutation{Op: "revoke-trusted-devices"},
			Err:      &mutation.Error{Kind: mutation.NetworkFailure},
		})
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if !stale(t, repo, KeyTrustedDevices) || !stale(t, repo, KeyDeviceStatus) {
			t.Error("expected device keys to be stale")
		}
	})

	t.Run("unknown operations are ignored", func(t *testing.T) {
		r, _ := setupReconciler(t)
		undo, err := r.Optimistic(ctx, mutation.Mutation{Op: "nope"})
		if undo != nil || err != nil {
			t.Errorf("expected nothing, got %v", err)
		}
		if err := r.Settle(ctx, mutation.Outcome{Mutation: mutation.Mutation{Op: "nope"}}); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("concurrent optimistic writes are serialised per key", func(t *testing.T) {
		r, repo := setupReconciler(t)
		put(t, repo, KeySessionList, `[{"id":"a"},{"id":"b"},{"id":"c"},{"id":"d"}]`)

		var wg sync.WaitGroup
		for _, id := range []string{"a", "b", "c", "d"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := r.Optimistic(ctx, mutation.Mutation{Op: "revoke-session", Params: map[string]string{"id": id}}); err != nil {
					t.Errorf("Optimistic failed: %v", err)
				}
			}(id)
		}
		wg.Wait()

		entry, _ := repo.Get(KeySessionList)
		if string(entry.Value) != `[]` {
			t.Errorf("expected every session removed, got %s", entry.Value)
		}
	})
}

type revokeAllInput struct{}

func TestReconcilerWithPipeline(t *testing.T) {
	ctx := context.Background()
	r, repo := setupReconciler(t)
	put(t, repo, KeyTrustedDevices, `[{"id":"d1"}]`)

	op := mutation.Operation[revokeAllInput, mutation.Result]{
		Name:             "revoke-trusted-devices",
		Method:           http.MethodPost,
		Path:             "/auth/devices/revoke-all",
		RetryOnRateLimit: true,
		Normalize:        mutation.NormalizeOK,
	}

	newPipeline := func(transport *tu.ScriptedTransport) *mutation.Pipeline {
		exec := mutation.NewExecutor(mutation.ExecutorConfig{BaseURL: "http://api.test"}, nil, transport.Client(), nil)
		return mutation.NewPipeline(exec, nil, mutation.RetryPolicy{MaxAttempts: 1}, r, nil)
	}

	t.Run("failure rolls the optimistic list back", func(t *testing.T) {
		p := newPipeline(tu.NewScriptedTransport(tu.Reply{Status: http.StatusConflict}))
		if _, err := mutation.Submit(ctx, p, op, revokeAllInput{}); err == nil {
			t.Fatal("expected failure")
		}

		entry, _ := repo.Get(KeyTrustedDevices)
		if string(entry.Value) != `[{"id":"d1"}]` {
			t.Errorf("expected rollback, got %s", entry.Value)
		}
	})

	t.Run("success keeps the optimistic list", func(t *testing.T) {
		p := newPipeline(tu.NewScriptedTransport(tu.Reply{Body: `{"revoked":1}`}))
		if _, err := mutation.Submit(ctx, p, op, revokeAllInput{}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		entry, _ := repo.Get(KeyTrustedDevices)
		if string(entry.Value) != `[]` {
			t.Errorf("expected empty list, got %s", entry.Value)
		}
	})
}
