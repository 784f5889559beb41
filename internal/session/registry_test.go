package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/worldgate-project/worldgate/internal/auth"
)

func registrySession(accountID uint32, playerName string) *Session {
	s := New(uuid.New(), &auth.SessionInit{
		AccountID:   accountID,
		AccountName: fmt.Sprintf("ACCT%d", accountID),
	}, &fakeSender{}, nil, nil)
	if playerName != "" {
		s.Player = NewPlayer(uint64(accountID)*100, playerName, 60, FactionAlliance)
	}
	return s
}

func TestRegistryInsertLookupRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s := registrySession(1, "Arthas")

	if old := r.Insert(s); old != nil {
		t.Errorf("Insert() returned prior session %v, want nil", old)
	}
	if got := r.Lookup(1); got != s {
		t.Error("Lookup(1) did not return inserted session")
	}
	for _, name := range []string{"Arthas", "arthas", " ARTHAS "} {
		if got := r.LookupByPlayerName(name); got != s {
			t.Errorf("LookupByPlayerName(%q) = %v, want session", name, got)
		}
	}

	r.Remove(s)
	if r.Lookup(1) != nil || r.LookupByPlayerName("Arthas") != nil {
		t.Error("session still resolvable after Remove")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryDuplicateAccountReturnsOld(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := registrySession(1, "Arthas")
	second := registrySession(1, "Arthas")

	r.Insert(first)
	old := r.Insert(second)
	if old != first {
		t.Error("Insert() did not surface the displaced session")
	}
	if r.Lookup(1) != second {
		t.Error("Lookup(1) did not return the replacement")
	}

	// Removing the displaced session must not evict the replacement.
	r.Remove(first)
	if r.Lookup(1) != second {
		t.Error("Remove(displaced) evicted the replacement session")
	}
}

func TestRegistryBindName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s := registrySession(1, "")
	r.Insert(s)

	if r.LookupByPlayerName("Jaina") != nil {
		t.Error("unbound name resolved")
	}

	s.Player = NewPlayer(100, "Jaina", 60, FactionAlliance)
	r.BindName(s)
	if r.LookupByPlayerName("jaina") != s {
		t.Error("LookupByPlayerName after BindName failed")
	}
}

func TestRegistrySnapshotDuringChurn(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			for j := uint32(0); j < 50; j++ {
				s := registrySession(base*1000+j, "")
				r.Insert(s)
				if j%2 == 0 {
					r.Remove(s)
				}
			}
		}(uint32(i))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, s := range r.Snapshot() {
				_ = s.AccountID
			}
		}
	}()

	wg.Wait()

	// 8 goroutines x 50 inserts, half removed.
	if got := r.Len(); got != 8*25 {
		t.Errorf("Len() = %d, want %d", got, 8*25)
	}
	live, peak, total := r.Stats()
	if live != 8*25 || peak < live || total != 8*50 {
		t.Errorf("Stats() = %d/%d/%d", live, peak, total)
	}
}
