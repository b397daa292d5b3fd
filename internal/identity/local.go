package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("identity: database handle is required")

// Credential is the persisted record backing one local identity.
type Credential struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email             string    `gorm:"column:email;size:320;uniqueIndex;not null"`
	DisplayName       string    `gorm:"column:display_name;size:320"`
	SecretHash        string    `gorm:"column:secret_hash;size:128;not null"`
	EmailVerified     bool      `gorm:"column:email_verified;not null;default:false"`
	VerificationToken string    `gorm:"column:verification_token;size:190"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local identity credentials.
func (Credential) TableName() string {
	return "identity_credentials"
}

// LocalProviderConfig describes the dependencies of the local provider.
type LocalProviderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// LocalProvider implements Provider with credential records in the database.
// Session-change events fan out to subscribers in the order they are emitted.
type LocalProvider struct {
	db        *gorm.DB
	logger    *zap.Logger
	clock     func() time.Time
	broadcast *broadcaster
}

// NewLocalProvider constructs the provider and validates its dependencies.
func NewLocalProvider(cfg LocalProviderConfig) (*LocalProvider, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LocalProvider{
		db:        cfg.Database,
		logger:    logger,
		clock:     clock,
		broadcast: newBroadcaster(),
	}, nil
}

// SignIn verifies the email/secret pair and announces the new principal to
// every subscriber. Unknown email and wrong secret are indistinguishable.
func (p *LocalProvider) SignIn(ctx context.Context, email, secret string) (Identity, error) {
	credential, err := p.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(credential.SecretHash), []byte(secret)) != nil {
		return Identity{}, ErrInvalidCredential
	}

	resolved := credential.identity()
	p.broadcast.publish(Event{Identity: &resolved})
	return resolved, nil
}

// SignOut announces an absent principal to every subscriber.
func (p *LocalProvider) SignOut(_ context.Context) error {
	p.broadcast.publish(Event{})
	return nil
}

// Reauthenticate proves possession of the current secret for the identity.
func (p *LocalProvider) Reauthenticate(ctx context.Context, id, secret string) error {
	credential, err := p.findByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			return ErrInvalidCredential
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(credential.SecretHash), []byte(secret)) != nil {
		return ErrInvalidCredential
	}
	return nil
}

// UpdateSecret replaces the stored secret after policy validation.
func (p *LocalProvider) UpdateSecret(ctx context.Context, id, newSecret string) error {
	if len(newSecret) < MinSecretLength {
		return ErrWeakCredential
	}
	if _, err := p.findByID(ctx, id); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash secret: %w", err)
	}
	return p.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Update("secret_hash", string(hash)).Error
}

// CreateIdentity registers a new principal. The caller's own session is not
// affected; no session-change event is emitted.
func (p *LocalProvider) CreateIdentity(ctx context.Context, email, secret, displayName string) (Identity, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(normalized); err != nil || normalized == "" {
		return Identity{}, ErrInvalidEmail
	}
	if len(secret) < MinSecretLength {
		return Identity{}, ErrWeakCredential
	}

	if _, err := p.findByEmail(ctx, normalized); err == nil {
		return Identity{}, ErrEmailInUse
	} else if !errors.Is(err, ErrUnknownIdentity) {
		return Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: hash secret: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Identity{}, err
	}

	credential := Credential{
		ID:          id.String(),
		Email:       normalized,
		DisplayName: strings.TrimSpace(displayName),
		SecretHash:  string(hash),
	}
	if err := p.db.WithContext(ctx).Create(&credential).Error; err != nil {
		return Identity{}, err
	}
	return credential.identity(), nil
}

// DeleteIdentity removes the credential record. Existing sessions are not
// revoked; only the next sign-in is refused.
func (p *LocalProvider) DeleteIdentity(ctx context.Context, id string) error {
	result := p.db.WithContext(ctx).Where("id = ?", id).Delete(&Credential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnknownIdentity
	}
	return nil
}

// SendVerificationEmail issues a fresh verification token and hands it to the
// mail transport. The transport here is the structured log; a real deployment
// swaps in an SMTP sender behind the same provider method.
func (p *LocalProvider) SendVerificationEmail(ctx context.Context, id string) error {
	credential, err := p.findByID(ctx, id)
	if err != nil {
		return err
	}
	token, err := uuid.NewV7()
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Update("verification_token", token.String()).Error
	if err != nil {
		return err
	}
	p.logger.Info("verification email queued",
		zap.String("email", credential.Email),
		zap.String("token", token.String()))
	return nil
}

// ConfirmVerification marks the identity verified when the token matches.
func (p *LocalProvider) ConfirmVerification(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnknownIdentity
	}
	result := p.db.WithContext(ctx).
		Model(&Credential{}).
		Where("verification_token = ?", token).
		Updates(map[string]interface{}{
			"email_verified":     true,
			"verification_token": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnknownIdentity
	}
	return nil
}

// Subscribe registers a session-change listener.
func (p *LocalProvider) Subscribe() *Subscription {
	return p.broadcast.subscribe()
}

func (p *LocalProvider) findByEmail(ctx context.Context, email string) (Credential, error) {
	var credential Credential
	err := p.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrUnknownIdentity
	}
	if err != nil {
		return Credential{}, err
	}
	return credential, nil
}

func (p *LocalProvider) findByID(ctx context.Context, id string) (Credential, error) {
	var credential Credential
	err := p.db.WithContext(ctx).Where("id = ?", id).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrUnknownIdentity
	}
	if err != nil {
		return Credential{}, err
	}
	return credential, nil
}

func (c Credential) identity() Identity {
	return Identity{
		ID:            c.ID,
		Email:         c.Email,
		DisplayName:   c.DisplayName,
		EmailVerified: c.EmailVerified,
	}
}
