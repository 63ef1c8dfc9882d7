package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/giantswarm/storegate/storage"
	"github.com/giantswarm/storegate/storage/storagetest"
)

// testStore creates a store for one test. It connects to VALKEY_TEST_ADDR
// when set and to an in-process miniredis otherwise. Each test gets a
// unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	cfg := Config{
		Address:   os.Getenv("VALKEY_TEST_ADDR"),
		KeyPrefix: fmt.Sprintf("storegatetest:%s:", t.Name()),
	}
	if cfg.Address == "" {
		mr := miniredis.RunT(t)
		cfg.Address = mr.Addr()
		cfg.DisableCache = true
	}

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() with empty address should fail")
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.CredentialStore {
		return testStore(t)
	})
}

func TestStore_Count(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, rec := range []*storage.Record{
		{ID: "g1", Tenant: "shop1.myshopify.com"},
		{ID: "g2", Tenant: "shop1.myshopify.com"},
		{ID: "g3", Tenant: "shop2.myshopify.com"},
	} {
		if _, err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Put(%s) error = %v", rec.ID, err)
		}
	}
	if _, err := store.DeactivateByTenant(ctx, "shop1.myshopify.com"); err != nil {
		t.Fatalf("DeactivateByTenant() error = %v", err)
	}
	if err := store.DeleteByID(ctx, "g3"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}

	total, active, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if total != 2 || active != 0 {
		t.Errorf("Count() = (%d, %d), want (2, 0)", total, active)
	}
}

func TestStore_PayloadIsBinarySafe(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	payload := []byte{0x00, 0xff, '\n', 'x', 0x00}
	if _, err := store.Put(ctx, &storage.Record{ID: "g1", Tenant: "shop1.myshopify.com", Payload: payload}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.GetByID(ctx, "g1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, payload)
	}
}

func TestStore_Timestamps(t *testing.T) {
	store := testStore(t)
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)
	store.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	if _, err := store.Put(ctx, &storage.Record{ID: "g1", Tenant: "shop1.myshopify.com"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.GetActiveByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant() error = %v", err)
	}
	if !got.ActivatedAt.Equal(fixed) || !got.UpdatedAt.Equal(fixed) {
		t.Errorf("timestamps = (%v, %v), want %v", got.ActivatedAt, got.UpdatedAt, fixed)
	}
}

func TestStore_MalformedHash(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := store.credentialKey("broken")
	if err := store.client.Do(ctx, store.client.B().Hset().Key(key).FieldValue().
		FieldValue("id", "broken").
		FieldValue("tenant", "shop1.myshopify.com").
		FieldValue("seq", "not-a-number").
		Build()).Error(); err != nil {
		t.Fatalf("HSET error = %v", err)
	}

	_, err := store.GetByID(ctx, "broken")
	if !errors.Is(err, storage.ErrCorruptRecord) {
		t.Errorf("GetByID() error = %v, want ErrCorruptRecord", err)
	}
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{prefix: "p:"}

	tests := []struct {
		got  string
		want string
	}{
		{s.credentialKey("offline_shop1"), "p:cred:offline_shop1"},
		{s.tenantActiveKey("shop1"), "p:tenant:shop1:active"},
		{s.tenantAllKey("shop1"), "p:tenant:shop1:all"},
		{s.sequenceKey(), "p:seq"},
		{s.idsKey(), "p:ids"},
		{s.activeIDsKey(), "p:ids:active"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestRecordFromHash(t *testing.T) {
	valid := map[string]string{
		"id":           "g1",
		"tenant":       "shop1.myshopify.com",
		"payload":      "abc",
		"active":       "1",
		"seq":          "7",
		"activated_at": "2024-05-01T12:30:00Z",
		"updated_at":   "2024-05-01T13:30:00Z",
	}

	rec, err := recordFromHash(valid)
	if err != nil {
		t.Fatalf("recordFromHash() error = %v", err)
	}
	if rec.Sequence != 7 || !rec.Active || string(rec.Payload) != "abc" {
		t.Errorf("recordFromHash() = %+v", rec)
	}

	for _, field := range []string{"id", "seq", "activated_at", "updated_at"} {
		t.Run("missing "+field, func(t *testing.T) {
			fields := make(map[string]string, len(valid))
			for k, v := range valid {
				if k != field {
					fields[k] = v
				}
			}
			_, err := recordFromHash(fields)
			if !errors.Is(err, storage.ErrCorruptRecord) {
				t.Errorf("error = %v, want ErrCorruptRecord", err)
			}
		})
	}
}

func TestPairs(t *testing.T) {
	got := pairs([]string{"a", "1", "b", "2", "dangling"})
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Errorf("pairs() = %v", got)
	}
}
