package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/profiles"
	"github.com/cantierecloud/backoffice/internal/store"
)

var (
	errMissingProvider = errors.New("gate: identity provider is required")
	errMissingStore    = errors.New("gate: document store is required")

	// ErrValidation indicates a locally rejected input; no remote call was
	// made and no write happened.
	ErrValidation = errors.New("gate: validation failed")
	// ErrNoSession indicates an operation that requires an authenticated
	// session was called without one.
	ErrNoSession = errors.New("gate: no active session")
	// ErrSuperseded indicates a profile load finished after its session had
	// been cleared or replaced; the result was discarded.
	ErrSuperseded = errors.New("gate: session superseded during resolution")

	noOpLogger = zap.NewNop()
)

// Config describes the dependencies of the session gate.
type Config struct {
	Provider identity.Provider
	Store    store.Store
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Gate owns the authenticated-identity lifecycle: it bridges provider
// session-change events to deterministic session state, lazily creates
// profiles on first sign-in, and answers role questions for the UI layer.
//
// The single Session value is shared between the observer loop and in-flight
// profile operations. A generation counter guards against committing a stale
// profile load into a session that was cleared or replaced while the load was
// in flight; a superseded load simply has its result discarded.
type Gate struct {
	provider identity.Provider
	store    store.Store
	clock    func() time.Time
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	session    Session
	generation uint64
}

// New constructs the gate in StateUnauthenticated.
func New(cfg Config) (*Gate, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Gate{
		provider: cfg.Provider,
		store:    cfg.Store,
		clock:    clock,
		logger:   logger,
		state:    StateUnauthenticated,
	}, nil
}

// Observe consumes the provider's session-change stream until the context is
// cancelled, applying one session transition per event, in emission order.
// The subscription is deregistered on return.
func (g *Gate) Observe(ctx context.Context) error {
	return g.observe(ctx, g.provider.Subscribe())
}

func (g *Gate) observe(ctx context.Context, subscription *identity.Subscription) error {
	defer subscription.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			g.applyEvent(ctx, event)
		}
	}
}

func (g *Gate) applyEvent(ctx context.Context, event identity.Event) {
	if event.Identity == nil {
		g.clearSession()
		return
	}

	g.mu.Lock()
	// A repeated announcement for the principal already held, or still mid
	// resolution, is not a transition. SignIn resolves synchronously and the
	// provider echoes the same announcement to the observer loop.
	if g.state != StateUnauthenticated && g.session.Identity.ID == event.Identity.ID {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if _, err := g.resolveIdentity(ctx, *event.Identity); err != nil && !errors.Is(err, ErrSuperseded) {
		g.logger.Warn("session resolution failed",
			zap.String("identity_id", event.Identity.ID),
			zap.Error(err))
	}
}

// SignIn authenticates against the provider and resolves the session
// synchronously, returning the loaded profile.
func (g *Gate) SignIn(ctx context.Context, email, secret string) (profiles.Profile, error) {
	resolved, err := g.provider.SignIn(ctx, email, secret)
	if err != nil {
		return profiles.Profile{}, err
	}
	return g.resolveIdentity(ctx, resolved)
}

// SignOut clears the session and tells the provider to drop the principal.
func (g *Gate) SignOut(ctx context.Context) error {
	g.clearSession()
	return g.provider.SignOut(ctx)
}

// resolveIdentity drives Unauthenticated/Authenticated -> Resolving ->
// Authenticated. The captured generation token decides whether the resolved
// profile may still be committed once the load returns.
func (g *Gate) resolveIdentity(ctx context.Context, resolved identity.Identity) (profiles.Profile, error) {
	g.mu.Lock()
	g.generation++
	generation := g.generation
	g.state = StateResolving
	g.session = Session{Identity: resolved}
	g.mu.Unlock()

	profile, err := g.LoadOrCreateProfile(ctx, resolved)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != generation {
		// Superseded while the load was in flight; discard the result.
		if err != nil {
			return profiles.Profile{}, err
		}
		return profiles.Profile{}, ErrSuperseded
	}
	if err != nil {
		g.state = StateUnauthenticated
		g.session = Session{}
		return profiles.Profile{}, err
	}
	g.state = StateAuthenticated
	g.session = Session{Identity: resolved, Profile: profile}
	return profile, nil
}

func (g *Gate) clearSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.state = StateUnauthenticated
	g.session = Session{}
}

// CurrentState reports the session machine position. Never blocks.
func (g *Gate) CurrentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CurrentSession returns a copy of the active session, if any. Never blocks.
func (g *Gate) CurrentSession() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return Session{}, false
	}
	return g.session, true
}

// CurrentRole returns the active session's role, or the RoleNone sentinel
// when no session is held. Never blocks.
func (g *Gate) CurrentRole() profiles.Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return profiles.RoleNone
	}
	return g.session.Profile.Role
}

// LoadOrCreateProfile fetches the profile for the identity, creating the
// default record on first sign-in (role worker, status active). lastLogin is
// always refreshed as a second write after the fetch-or-create step; an
// existing profile keeps its name, role, phone and address untouched.
func (g *Gate) LoadOrCreateProfile(ctx context.Context, resolved identity.Identity) (profiles.Profile, error) {
	now := g.clock().UTC()

	var profile profiles.Profile
	record, err := g.store.Get(ctx, profiles.Collection, resolved.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		profile = defaultProfile(resolved, now)
		if err := g.store.Set(ctx, profiles.Collection, resolved.ID, profile.Record()); err != nil {
			return profiles.Profile{}, fmt.Errorf("create profile: %w", err)
		}
		g.logger.Info("profile created",
			zap.String("identity_id", resolved.ID),
			zap.String("role", string(profile.Role)))
	case err != nil:
		return profiles.Profile{}, fmt.Errorf("load profile: %w", err)
	default:
		profile = profiles.FromRecord(resolved.ID, record)
	}

	lastLogin := g.clock().UTC()
	patch := store.Record{"lastLogin": lastLogin.UTC().Format(time.RFC3339Nano)}
	if err := g.store.Update(ctx, profiles.Collection, resolved.ID, patch); err != nil {
		return profiles.Profile{}, fmt.Errorf("update last login: %w", err)
	}
	profile.LastLogin = lastLogin
	return profile, nil
}

// GetProfile is a plain read of the stored profile; unlike
// LoadOrCreateProfile it never creates and never touches lastLogin.
func (g *Gate) GetProfile(ctx context.Context, identityID string) (profiles.Profile, error) {
	record, err := g.store.Get(ctx, profiles.Collection, identityID)
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profiles.FromRecord(identityID, record), nil
}

// UpdateProfile validates the patch, writes it to the store and, when the
// patched profile belongs to the active session, applies it in memory so
// reads are immediately consistent.
func (g *Gate) UpdateProfile(ctx context.Context, identityID string, patch profiles.Patch, actor string) (profiles.Profile, error) {
	if err := validatePatch(patch); err != nil {
		return profiles.Profile{}, err
	}

	now := g.clock().UTC()
	if err := g.store.Update(ctx, profiles.Collection, identityID, patch.Record(now, actor)); err != nil {
		return profiles.Profile{}, fmt.Errorf("update profile: %w", err)
	}

	g.mu.Lock()
	if g.state == StateAuthenticated && g.session.Identity.ID == identityID {
		patch.Apply(&g.session.Profile, now, actor)
	}
	g.mu.Unlock()

	record, err := g.store.Get(ctx, profiles.Collection, identityID)
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("reload profile: %w", err)
	}
	return profiles.FromRecord(identityID, record), nil
}

// ChangeCredential rotates the identity secret. The new secret is checked
// against local policy before any remote call; reauthentication with the
// current secret is a mandatory proof-of-possession step before rotation.
func (g *Gate) ChangeCredential(ctx context.Context, identityID, currentSecret, newSecret string) error {
	if len(newSecret) < identity.MinSecretLength {
		return identity.ErrWeakCredential
	}
	if err := g.provider.Reauthenticate(ctx, identityID, currentSecret); err != nil {
		return err
	}
	return g.provider.UpdateSecret(ctx, identityID, newSecret)
}

// ListProfiles returns every profile, ordered by name ascending under the
// store's native collation when requested. The gate performs no privilege
// check here; gating the call is the caller's responsibility.
func (g *Gate) ListProfiles(ctx context.Context, orderByName bool) ([]profiles.Profile, error) {
	orderBy := ""
	if orderByName {
		orderBy = "name"
	}
	entries, err := g.store.Query(ctx, profiles.Collection, orderBy)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	listed := make([]profiles.Profile, 0, len(entries))
	for _, entry := range entries {
		listed = append(listed, profiles.FromRecord(entry.ID, entry.Record))
	}
	return listed, nil
}

// DeleteProfile removes the profile record only; the identity record is left
// in place.
func (g *Gate) DeleteProfile(ctx context.Context, identityID string) error {
	if err := g.store.Delete(ctx, profiles.Collection, identityID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	g.logger.Info("profile deleted", zap.String("identity_id", identityID))
	return nil
}

// CreateUserInput carries the admin user-creation form.
type CreateUserInput struct {
	Email   string
	Secret  string
	Name    string
	Role    profiles.Role
	Phone   string
	Address string
}

// CreateUser registers a new identity with the provider and persists its
// profile. The verification email is best effort; its failure does not undo
// the creation.
func (g *Gate) CreateUser(ctx context.Context, input CreateUserInput, actor string) (profiles.Profile, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return profiles.Profile{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	role := input.Role
	if role == profiles.RoleNone {
		role = profiles.RoleWorker
	}
	if !role.Valid() {
		return profiles.Profile{}, fmt.Errorf("%w: unknown role %q", ErrValidation, input.Role)
	}

	created, err := g.provider.CreateIdentity(ctx, input.Email, input.Secret, name)
	if err != nil {
		return profiles.Profile{}, err
	}

	now := g.clock().UTC()
	profile := profiles.Profile{
		ID:        created.ID,
		Name:      name,
		Email:     created.Email,
		Role:      role,
		Phone:     strings.TrimSpace(input.Phone),
		Address:   strings.TrimSpace(input.Address),
		Status:    profiles.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
	}
	if err := g.store.Set(ctx, profiles.Collection, created.ID, profile.Record()); err != nil {
		// Remove the just-created identity so a retry does not trip the
		// email-in-use rejection.
		if cleanupErr := g.provider.DeleteIdentity(ctx, created.ID); cleanupErr != nil {
			g.logger.Warn("orphan identity cleanup failed",
				zap.String("identity_id", created.ID),
				zap.Error(cleanupErr))
		}
		return profiles.Profile{}, fmt.Errorf("create profile: %w", err)
	}

	if err := g.provider.SendVerificationEmail(ctx, created.ID); err != nil {
		g.logger.Warn("verification email failed",
			zap.String("identity_id", created.ID),
			zap.Error(err))
	}
	return profile, nil
}

func validatePatch(patch profiles.Patch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, *patch.Role)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *patch.Status)
	}
	return nil
}

func defaultProfile(resolved identity.Identity, now time.Time) profiles.Profile {
	name := strings.TrimSpace(resolved.DisplayName)
	if name == "" {
		name = resolved.Email
		if at := strings.IndexByte(name, '@'); at > 0 {
			name = name[:at]
		}
	}
	return profiles.Profile{
		ID:        resolved.ID,
		Name:      name,
		Email:     resolved.Email,
		Role:      profiles.RoleWorker,
		Status:    profiles.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
}
