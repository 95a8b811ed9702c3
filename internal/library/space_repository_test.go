package library

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
)

func TestAddFirstSpaceBecomesActive(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})

	first := mustAddSpace(t, repo, "Work")
	if repo.ActiveSpaceID() != first.ID {
		t.Fatalf("expected first space %s to be active, got %s", first.ID, repo.ActiveSpaceID())
	}

	second := mustAddSpace(t, repo, "Personal")
	if repo.ActiveSpaceID() != first.ID {
		t.Fatalf("expected active space to stay %s after adding %s", first.ID, second.ID)
	}
}

func TestAddAssignsSequentialOrder(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})

	for rank := 0; rank < 3; rank++ {
		space := mustAddSpace(t, repo, "Space")
		if space.Order != rank {
			t.Fatalf("expected order %d, got %d", rank, space.Order)
		}
	}
}

func TestDeleteActiveSpacePromotesNextSurviving(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	first := mustAddSpace(t, repo, "Work")
	second := mustAddSpace(t, repo, "Personal")

	if err := repo.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if repo.ActiveSpaceID() != second.ID {
		t.Fatalf("expected %s to be promoted, got %s", second.ID, repo.ActiveSpaceID())
	}
}

func TestDeleteLastSpaceClearsActivePointer(t *testing.T) {
	store := newSQLiteStore(t)
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: store})
	only := mustAddSpace(t, repo, "Work")

	if err := repo.Delete(context.Background(), only.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if repo.ActiveSpaceID() != "" {
		t.Fatalf("expected empty active pointer, got %s", repo.ActiveSpaceID())
	}
	if _, err := store.Get(context.Background(), storage.KeyActiveSpaceID); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("expected pointer key to be cleared, got %v", err)
	}
}

func TestDeleteIsIdempotentAndRetainsTombstone(t *testing.T) {
	store := newSQLiteStore(t)
	clock := fixedClock(time.Unix(1756000000, 0))
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: store, Clock: clock})
	space := mustAddSpace(t, repo, "Work")

	for i := 0; i < 2; i++ {
		if err := repo.Delete(context.Background(), space.ID); err != nil {
			t.Fatalf("unexpected delete error on call %d: %v", i+1, err)
		}
	}

	if len(repo.List()) != 0 {
		t.Fatalf("expected deleted space to be excluded from listing")
	}

	raw, err := store.Get(context.Background(), storage.KeySpaces)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	var stored []Space
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("failed to decode stored spaces: %v", err)
	}
	if len(stored) != 1 || !stored[0].Deleted {
		t.Fatalf("expected one tombstoned record, got %#v", stored)
	}
}

func TestDeleteMissingSpaceIsNoOp(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	if err := repo.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
}

func TestUpdateMissingSpaceReturnsNotFound(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	name := "Renamed"
	if _, err := repo.Update(context.Background(), "missing", SpacePatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLocatesTombstonedSpace(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	space := mustAddSpace(t, repo, "Work")
	if err := repo.Delete(context.Background(), space.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	name := "Renamed"
	updated, err := repo.Update(context.Background(), space.ID, SpacePatch{Name: &name})
	if err != nil {
		t.Fatalf("expected update of tombstoned space to succeed, got %v", err)
	}
	if updated.Name != "Renamed" || !updated.Deleted {
		t.Fatalf("expected renamed tombstone, got %#v", updated)
	}
}

func TestAddRejectsEmptyName(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	if _, err := repo.Add(context.Background(), SpaceInput{Name: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoadWithFailingStorePublishesEmptyView(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: failingStore{}})

	if repo.LoadError() == nil {
		t.Fatalf("expected load error to be recorded")
	}
	if got := repo.List(); len(got) != 0 {
		t.Fatalf("expected empty view, got %d records", len(got))
	}
	if repo.ActiveSpaceID() != "" {
		t.Fatalf("expected empty active pointer, got %s", repo.ActiveSpaceID())
	}
}

func TestLoadPublishesOnlySurvivors(t *testing.T) {
	store := newSQLiteStore(t)
	seed := []Space{
		{ID: "s1", Name: "Kept", Order: 2},
		{ID: "s2", Name: "Gone", Order: 0, Deleted: true},
		{ID: "s3", Name: "Also kept", Order: 1},
	}
	raw, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("failed to marshal seed: %v", err)
	}
	if err := store.Put(context.Background(), storage.KeySpaces, raw); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: store})
	listed := repo.List()
	if len(listed) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(listed))
	}
	if listed[0].ID != "s3" || listed[1].ID != "s1" {
		t.Fatalf("expected order-sorted survivors, got %#v", listed)
	}
}

func TestActivateMissingSpaceReturnsNotFound(t *testing.T) {
	repo := mustSpaceRepository(t, SpaceRepositoryConfig{Store: newSQLiteStore(t)})
	if err := repo.Activate(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
