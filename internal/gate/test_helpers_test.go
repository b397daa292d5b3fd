package gate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/store"
)

type testFixture struct {
	gate     *Gate
	provider *identity.LocalProvider
	store    store.Store
}

func newFixture(t *testing.T, wrap func(store.Store) store.Store) *testFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&store.Document{}, &identity.Credential{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	provider, err := identity.NewLocalProvider(identity.LocalProviderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	documentStore, err := store.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	var gateStore store.Store = documentStore
	if wrap != nil {
		gateStore = wrap(documentStore)
	}
	sessionGate, err := New(Config{Provider: provider, Store: gateStore})
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}
	return &testFixture{gate: sessionGate, provider: provider, store: documentStore}
}

func (f *testFixture) mustRegister(t *testing.T, email, secret string) identity.Identity {
	t.Helper()
	created, err := f.provider.CreateIdentity(context.Background(), email, secret, "")
	if err != nil {
		t.Fatalf("create identity failed: %v", err)
	}
	return created
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

// countingStore counts write operations so tests can assert that failed
// validation performs zero writes.
type countingStore struct {
	store.Store
	mu     sync.Mutex
	writes int
}

func (s *countingStore) Set(ctx context.Context, collection, id string, record store.Record) error {
	s.addWrite()
	return s.Store.Set(ctx, collection, id, record)
}

func (s *countingStore) Update(ctx context.Context, collection, id string, patch store.Record) error {
	s.addWrite()
	return s.Store.Update(ctx, collection, id, patch)
}

func (s *countingStore) Delete(ctx context.Context, collection, id string) error {
	s.addWrite()
	return s.Store.Delete(ctx, collection, id)
}

func (s *countingStore) addWrite() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *countingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// blockingStore parks the first Get until released, exposing the Resolving
// window to tests.
type blockingStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(inner store.Store) *blockingStore {
	return &blockingStore{
		Store:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingStore) Get(ctx context.Context, collection, id string) (store.Record, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Get(ctx, collection, id)
}

// failingStore fails Set while armed, so tests can drive write errors.
type failingStore struct {
	store.Store
	mu       sync.Mutex
	failSets int
}

func (s *failingStore) Set(ctx context.Context, collection, id string, record store.Record) error {
	s.mu.Lock()
	if s.failSets > 0 {
		s.failSets--
		s.mu.Unlock()
		return store.ErrUnavailable
	}
	s.mu.Unlock()
	return s.Store.Set(ctx, collection, id, record)
}

// credentialSpy records secret rotations passing through the provider.
type credentialSpy struct {
	identity.Provider
	mu          sync.Mutex
	updateCalls int
}

func (s *credentialSpy) UpdateSecret(ctx context.Context, id, newSecret string) error {
	s.mu.Lock()
	s.updateCalls++
	s.mu.Unlock()
	return s.Provider.UpdateSecret(ctx, id, newSecret)
}

func (s *credentialSpy) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls
}
