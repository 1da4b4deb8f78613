package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountService implements ports.AccountRegistry. Private keys are stored
// vault-encrypted and only decrypted inside WithSigningKey.
type AccountService struct {
	repo    ports.AccountRepository
	vault   ports.KeyVault
	keys    ports.KeyGenerator
	network string
	log     zerolog.Logger
}

// NewAccountService creates a new custodial account registry.
func NewAccountService(
	repo ports.AccountRepository,
	vault ports.KeyVault,
	keys ports.KeyGenerator,
	network string,
	log zerolog.Logger,
) *AccountService {
	return &AccountService{
		repo:    repo,
		vault:   vault,
		keys:    keys,
		network: network,
		log:     log,
	}
}

// Create generates and stores a keypair for owner.
func (s *AccountService) Create(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error) {
	if !owner.Type.Valid() || owner.ID == "" {
		return nil, apperror.Validation("invalid account owner")
	}

	existing, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		return nil, apperror.ErrAccountExists()
	}

	key, err := s.keys.GenerateKey()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate key: %w", err))
	}
	return s.store(ctx, owner, key)
}

func (s *AccountService) store(ctx context.Context, owner domain.OwnerRef, key *ports.GeneratedKey) (*domain.CustodialAccount, error) {
	encKey, err := s.vault.Encrypt(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}

	account := &domain.CustodialAccount{
		ID:                  uuid.New(),
		OwnerType:           owner.Type,
		OwnerID:             owner.ID,
		Address:             key.Address,
		EncryptedPrivateKey: encKey,
		Network:             s.network,
		CreatedAt:           time.Now().UTC(),
	}
	if key.Mnemonic != nil {
		encMnemonic, err := s.vault.Encrypt(*key.Mnemonic)
		if err != nil {
			return nil, fmt.Errorf("encrypt mnemonic: %w", err)
		}
		account.EncryptedMnemonic = &encMnemonic
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, ports.ErrUniqueViolation) {
			return nil, apperror.ErrAccountExists()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("owner", owner.String()).
		Str("address", account.Address).
		Msg("custodial account created")
	return account, nil
}

// Get returns owner's account, or nil when it has none.
func (s *AccountService) Get(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error) {
	account, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return account, nil
}

// MustGet returns owner's account or AccountNotFound.
func (s *AccountService) MustGet(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error) {
	account, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperror.ErrAccountNotFound(owner.String())
	}
	return account, nil
}

// WithSigningKey decrypts the account key and hands it to fn. The key is
// not retained after fn returns.
func (s *AccountService) WithSigningKey(ctx context.Context, account *domain.CustodialAccount, fn func(privateKey string) error) error {
	key, err := s.vault.Decrypt(account.EncryptedPrivateKey)
	if err != nil {
		s.log.Error().Str("owner", account.Owner().String()).Msg("account key failed to decrypt")
		return fmt.Errorf("decrypt key of %s: %w", account.Owner(), err)
	}
	return fn(key)
}

// ImportTreasury stores the configured treasury key on first start and
// checks it against the stored account afterwards. An empty wif generates
// a fresh treasury key when none exists yet.
func (s *AccountService) ImportTreasury(ctx context.Context, wif string) (*domain.CustodialAccount, error) {
	owner := domain.TreasuryOwner()
	existing, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	if wif == "" {
		if existing != nil {
			return existing, nil
		}
		return s.Create(ctx, owner)
	}

	address, err := s.keys.AddressFromKey(wif)
	if err != nil {
		return nil, apperror.Validation("invalid treasury private key")
	}
	if existing != nil {
		if existing.Address != address {
			return nil, apperror.ErrConflict("configured treasury key does not match the stored treasury account")
		}
		return existing, nil
	}
	return s.store(ctx, owner, &ports.GeneratedKey{Address: address, PrivateKey: wif})
}
