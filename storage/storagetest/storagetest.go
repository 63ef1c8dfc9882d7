// Package storagetest provides a behavioural test suite shared by every
// storage.CredentialStore implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/giantswarm/storegate/storage"
)

// Factory returns an empty store. It is called once per subtest; cleanup
// should be registered with t.Cleanup.
type Factory func(t *testing.T) storage.CredentialStore

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.CredentialStore)
	}{
		{"PutAndGetByID", testPutAndGetByID},
		{"PutRejectsInvalidRecord", testPutRejectsInvalidRecord},
		{"PutAssignsIncreasingSequence", testPutAssignsIncreasingSequence},
		{"PutUpsertsInPlace", testPutUpsertsInPlace},
		{"PutMovesTenant", testPutMovesTenant},
		{"PutReactivates", testPutReactivates},
		{"GetActiveByTenantNewestWins", testGetActiveByTenantNewestWins},
		{"GetActiveByTenantIgnoresInactive", testGetActiveByTenantIgnoresInactive},
		{"GetActiveByTenantUnknown", testGetActiveByTenantUnknown},
		{"DeactivateByTenant", testDeactivateByTenant},
		{"DeleteByID", testDeleteByID},
		{"ListByTenantOrder", testListByTenantOrder},
		{"ConcurrentGrantsSameTenant", testConcurrentGrantsSameTenant},
		{"ConcurrentGrantAndUninstall", testConcurrentGrantAndUninstall},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func put(t *testing.T, s storage.CredentialStore, id, tenant, payload string) *storage.Record {
	t.Helper()
	rec, err := s.Put(context.Background(), &storage.Record{ID: id, Tenant: tenant, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("Put(%s) error = %v", id, err)
	}
	return rec
}

func testPutAndGetByID(t *testing.T, s storage.CredentialStore) {
	stored := put(t, s, "g1", "shop1.myshopify.com", "payload-1")
	if !stored.Active {
		t.Error("Put() result should be active")
	}
	if stored.Sequence == 0 {
		t.Error("Put() should assign a sequence")
	}
	if stored.ActivatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("Put() should set timestamps")
	}

	got, err := s.GetByID(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Tenant != "shop1.myshopify.com" || string(got.Payload) != "payload-1" || !got.Active {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.Sequence != stored.Sequence {
		t.Errorf("Sequence = %d, want %d", got.Sequence, stored.Sequence)
	}

	if _, err := s.GetByID(context.Background(), "missing"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrRecordNotFound", err)
	}
}

func testPutRejectsInvalidRecord(t *testing.T, s storage.CredentialStore) {
	for _, rec := range []*storage.Record{nil, {Tenant: "t"}, {ID: "i"}} {
		if _, err := s.Put(context.Background(), rec); !errors.Is(err, storage.ErrInvalidRecord) {
			t.Errorf("Put(%+v) error = %v, want ErrInvalidRecord", rec, err)
		}
	}
}

func testPutAssignsIncreasingSequence(t *testing.T, s storage.CredentialStore) {
	a := put(t, s, "a", "shop1.myshopify.com", "x")
	b := put(t, s, "b", "shop2.myshopify.com", "x")
	c := put(t, s, "a", "shop1.myshopify.com", "y")
	if !(a.Sequence < b.Sequence && b.Sequence < c.Sequence) {
		t.Errorf("sequences not strictly increasing: %d, %d, %d", a.Sequence, b.Sequence, c.Sequence)
	}
}

func testPutUpsertsInPlace(t *testing.T, s storage.CredentialStore) {
	put(t, s, "g1", "shop1.myshopify.com", "old")
	put(t, s, "g1", "shop1.myshopify.com", "new")

	got, err := s.GetByID(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if string(got.Payload) != "new" {
		t.Errorf("Payload = %q, want new", got.Payload)
	}

	list, err := s.ListByTenant(context.Background(), "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListByTenant() returned %d records, want 1", len(list))
	}
}

func testPutMovesTenant(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "x")
	put(t, s, "g1", "shop2.myshopify.com", "x")

	if _, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("old tenant lookup error = %v, want ErrRecordNotFound", err)
	}
	list, err := s.ListByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("old tenant still lists %d records", len(list))
	}

	got, err := s.GetActiveByTenant(ctx, "shop2.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant(new) error = %v", err)
	}
	if got.ID != "g1" {
		t.Errorf("GetActiveByTenant(new).ID = %q, want g1", got.ID)
	}
}

func testPutReactivates(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "x")
	if _, err := s.DeactivateByTenant(ctx, "shop1.myshopify.com"); err != nil {
		t.Fatalf("DeactivateByTenant() error = %v", err)
	}
	put(t, s, "g1", "shop1.myshopify.com", "y")

	got, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant() error = %v", err)
	}
	if string(got.Payload) != "y" || !got.Active {
		t.Errorf("GetActiveByTenant() = %+v", got)
	}
}

func testGetActiveByTenantNewestWins(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "first")
	put(t, s, "g2", "shop1.myshopify.com", "second")

	got, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant() error = %v", err)
	}
	if got.ID != "g2" {
		t.Errorf("GetActiveByTenant().ID = %q, want g2", got.ID)
	}

	// Re-granting the older id makes it current again.
	put(t, s, "g1", "shop1.myshopify.com", "third")
	got, err = s.GetActiveByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant() error = %v", err)
	}
	if got.ID != "g1" {
		t.Errorf("GetActiveByTenant().ID = %q, want g1", got.ID)
	}
}

func testGetActiveByTenantIgnoresInactive(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "x")
	if _, err := s.DeactivateByTenant(ctx, "shop1.myshopify.com"); err != nil {
		t.Fatalf("DeactivateByTenant() error = %v", err)
	}

	if _, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("GetActiveByTenant() error = %v, want ErrRecordNotFound", err)
	}

	// Retained for audit
	got, err := s.GetByID(ctx, "g1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Active {
		t.Error("deactivated record should be inactive")
	}
}

func testGetActiveByTenantUnknown(t *testing.T, s storage.CredentialStore) {
	if _, err := s.GetActiveByTenant(context.Background(), "never.myshopify.com"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("GetActiveByTenant() error = %v, want ErrRecordNotFound", err)
	}
}

func testDeactivateByTenant(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "offline_shop1", "shop1.myshopify.com", "x")
	put(t, s, "shop1_42", "shop1.myshopify.com", "x")
	put(t, s, "offline_shop2", "shop2.myshopify.com", "x")

	n, err := s.DeactivateByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("DeactivateByTenant() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeactivateByTenant() = %d, want 2", n)
	}

	n, err = s.DeactivateByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("second DeactivateByTenant() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second DeactivateByTenant() = %d, want 0", n)
	}

	n, err = s.DeactivateByTenant(ctx, "never.myshopify.com")
	if err != nil || n != 0 {
		t.Errorf("DeactivateByTenant(unknown) = %d, %v; want 0, nil", n, err)
	}

	if _, err := s.GetActiveByTenant(ctx, "shop2.myshopify.com"); err != nil {
		t.Errorf("other tenant affected: %v", err)
	}
}

func testDeleteByID(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "x")

	if err := s.DeleteByID(ctx, "g1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if _, err := s.GetByID(ctx, "g1"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrRecordNotFound", err)
	}
	if _, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("GetActiveByTenant() after delete error = %v, want ErrRecordNotFound", err)
	}
	if err := s.DeleteByID(ctx, "g1"); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("second DeleteByID() error = %v, want ErrRecordNotFound", err)
	}
}

func testListByTenantOrder(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	put(t, s, "g1", "shop1.myshopify.com", "x")
	put(t, s, "g2", "shop1.myshopify.com", "x")
	put(t, s, "g3", "shop1.myshopify.com", "x")
	if _, err := s.DeactivateByTenant(ctx, "shop1.myshopify.com"); err != nil {
		t.Fatalf("DeactivateByTenant() error = %v", err)
	}
	put(t, s, "g2", "shop1.myshopify.com", "y")

	list, err := s.ListByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	want := []string{"g2", "g3", "g1"}
	if len(list) != len(want) {
		t.Fatalf("ListByTenant() returned %d records, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("ListByTenant()[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}
	if !list[0].Active || list[1].Active || list[2].Active {
		t.Error("only the re-granted record should be active")
	}
}

func testConcurrentGrantsSameTenant(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	const writers = 8
	const rounds = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*rounds*2)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				id := fmt.Sprintf("g%d", w)
				if _, err := s.Put(ctx, &storage.Record{ID: id, Tenant: "shop1.myshopify.com", Payload: []byte(id)}); err != nil {
					errs <- err
				}
				if _, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com"); err != nil {
					errs <- fmt.Errorf("reader saw no active record during grants: %w", err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	list, err := s.ListByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(list) != writers {
		t.Fatalf("ListByTenant() returned %d records, want %d", len(list), writers)
	}

	current, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com")
	if err != nil {
		t.Fatalf("GetActiveByTenant() error = %v", err)
	}
	if current.ID != list[0].ID || current.Sequence != list[0].Sequence {
		t.Errorf("current record %s/%d is not the newest activation %s/%d",
			current.ID, current.Sequence, list[0].ID, list[0].Sequence)
	}
}

func testConcurrentGrantAndUninstall(t *testing.T, s storage.CredentialStore) {
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Put(ctx, &storage.Record{ID: "g1", Tenant: "shop1.myshopify.com", Payload: []byte("x")})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.DeactivateByTenant(ctx, "shop1.myshopify.com")
		}()
	}
	wg.Wait()

	// Whatever the interleaving, the final state is consistent: the single
	// record is either active and current or inactive and absent.
	rec, err := s.GetByID(ctx, "g1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	current, err := s.GetActiveByTenant(ctx, "shop1.myshopify.com")
	switch {
	case rec.Active && err != nil:
		t.Errorf("record active but tenant lookup failed: %v", err)
	case rec.Active && current.ID != "g1":
		t.Errorf("tenant lookup returned %q", current.ID)
	case !rec.Active && !errors.Is(err, storage.ErrRecordNotFound):
		t.Errorf("record inactive but tenant lookup error = %v", err)
	}
}

func testPing(t *testing.T, s storage.CredentialStore) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
