package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"reelhub/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

// CreateAccount registers a new account with a hashed password. Username and
// email uniqueness is enforced case-insensitively.
func (s *Storage) CreateAccount(params CreateAccountParams) (models.Account, error) {
	username := normalizeUsername(params.Username)
	if username == "" {
		return models.Account{}, errors.New("username is required")
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return models.Account{}, errors.New("email is required")
	}
	fullName := strings.TrimSpace(params.FullName)
	if fullName == "" {
		return models.Account{}, errors.New("fullName is required")
	}
	if params.Password == "" {
		return models.Account{}, errors.New("password is required")
	}
	if strings.TrimSpace(params.AvatarURL) == "" {
		return models.Account{}, errors.New("avatar is required")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Accounts {
		if existing.Username == username || existing.Email == email {
			return models.Account{}, ErrDuplicateAccount
		}
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:            generateID(),
		Username:      username,
		Email:         email,
		FullName:      fullName,
		AvatarURL:     strings.TrimSpace(params.AvatarURL),
		CoverImageURL: strings.TrimSpace(params.CoverImageURL),
		PasswordHash:  hashed,
		WatchHistory:  []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	updatedData := cloneDataset(s.data)
	updatedData.Accounts[account.ID] = account
	if err := s.persistDataset(updatedData); err != nil {
		return models.Account{}, err
	}
	s.data = updatedData

	return account, nil
}

// AuthenticateAccount resolves the account by email or username and verifies
// the password. A missing account and a failed verification surface as
// distinct errors so the API can answer 404 versus 401.
func (s *Storage) AuthenticateAccount(email, username, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, ErrInvalidCredentials
	}
	account, ok := s.findAccountByLogin(email, username)
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	if err := verifyPassword(account.PasswordHash, password); err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// findAccountByLogin resolves the login identifier. When both an email and a
// username are supplied and they match different accounts, the email match
// wins.
func (s *Storage) findAccountByLogin(email, username string) (models.Account, bool) {
	normalizedEmail := normalizeEmail(email)
	normalizedUsername := normalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if normalizedEmail != "" {
		for _, account := range s.data.Accounts {
			if account.Email == normalizedEmail {
				return account, true
			}
		}
	}
	if normalizedUsername != "" {
		for _, account := range s.data.Accounts {
			if account.Username == normalizedUsername {
				return account, true
			}
		}
	}
	return models.Account{}, false
}

// GetAccount fetches an account by ID.
func (s *Storage) GetAccount(id string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.data.Accounts[id]
	return account, ok
}

// GetAccountByUsername fetches an account by case-folded username.
func (s *Storage) GetAccountByUsername(username string) (models.Account, bool) {
	normalized := normalizeUsername(username)
	if normalized == "" {
		return models.Account{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.data.Accounts {
		if account.Username == normalized {
			return account, true
		}
	}
	return models.Account{}, false
}

// UpdateAccount applies profile field changes. The password hash and refresh
// token are not reachable through this path, so no rehash can occur on an
// unrelated save.
func (s *Storage) UpdateAccount(id string, update AccountUpdate) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	account, ok := updatedData.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}

	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return models.Account{}, errors.New("fullName cannot be empty")
		}
		account.FullName = name
	}

	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" {
			return models.Account{}, errors.New("email cannot be empty")
		}
		for existingID, existing := range updatedData.Accounts {
			if existingID == account.ID {
				continue
			}
			if existing.Email == email {
				return models.Account{}, ErrDuplicateAccount
			}
		}
		account.Email = email
	}

	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return models.Account{}, err
	}
	s.data = updatedData

	return account, nil
}

// SetAccountPassword replaces the stored password hash. This is the only
// update path besides CreateAccount that invokes the hasher.
func (s *Storage) SetAccountPassword(id, password string) error {
	if password == "" {
		return errors.New("password is required")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	account, ok := updatedData.Accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	account.PasswordHash = hashed
	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// SetAccountMedia overwrites the stored avatar or cover references.
func (s *Storage) SetAccountMedia(id string, update MediaUpdate) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	account, ok := updatedData.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}

	if update.AvatarURL != nil {
		url := strings.TrimSpace(*update.AvatarURL)
		if url == "" {
			return models.Account{}, errors.New("avatar url cannot be empty")
		}
		account.AvatarURL = url
	}
	if update.CoverImageURL != nil {
		account.CoverImageURL = strings.TrimSpace(*update.CoverImageURL)
	}

	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return models.Account{}, err
	}
	s.data = updatedData

	return account, nil
}

// SetRefreshToken stores the provided refresh token on the account,
// overwriting any previous value. This is the rotation point: the prior
// session's token stops matching and becomes unusable.
func (s *Storage) SetRefreshToken(id, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("refresh token is required")
	}
	return s.writeRefreshToken(id, token)
}

// ClearRefreshToken removes the stored refresh token, ending the account's
// session. Clearing an already-empty value is not an error.
func (s *Storage) ClearRefreshToken(id string) error {
	return s.writeRefreshToken(id, "")
}

func (s *Storage) writeRefreshToken(id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	account, ok := updatedData.Accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	account.RefreshToken = token
	account.UpdatedAt = time.Now().UTC()
	updatedData.Accounts[id] = account
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
