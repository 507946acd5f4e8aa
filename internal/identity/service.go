package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPINLength = 4

var (
	// ErrInvalidCredentials is returned for an unknown phone or a wrong PIN.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPIN rejects PINs shorter than four digits.
	ErrWeakPIN = errors.New("PIN must be at least 4 digits")
	// ErrPhoneRequired rejects registrations without a phone number.
	ErrPhoneRequired = errors.New("phone is required")
	// ErrDeviceRequired is returned on first login without a device id.
	ErrDeviceRequired = errors.New("device binding required")
	// ErrDeviceMismatch is returned when logging in from another device.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register creates a user and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	phone := strings.TrimSpace(creds.Phone)
	if phone == "" {
		return User{}, ErrPhoneRequired
	}
	if len(creds.PIN) < minPINLength {
		return User{}, ErrWeakPIN
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Phone:     phone,
		PINHash:   hash,
		DeviceID:  creds.DeviceID,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies credentials and device binding, binding the device on
// first use, and records the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, strings.TrimSpace(creds.Phone))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, ErrDeviceRequired
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, ErrDeviceMismatch
	}

	at := s.now().UTC()
	if err := s.repo.RecordLogin(ctx, user.ID, at); err != nil {
		return User{}, err
	}
	user.LastLogin = &at

	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByPhone returns a user by phone number.
func (s *Service) GetByPhone(ctx context.Context, phone string) (User, error) {
	return s.repo.FindByPhone(ctx, strings.TrimSpace(phone))
}
