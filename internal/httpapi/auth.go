package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/service"
	"satisledger/backend/internal/store"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	log       *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	DeleteUser(ctx context.Context, username string) error
}

type credential struct {
	password string
	name     string
	role     string
	active   bool
	created  time.Time
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, log *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		log:       log.Named("auth"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

// EnsureAdmin creates the named admin account when the store holds no admin
// yet. It is a no-op otherwise.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username, password string) error {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	for _, cred := range a.users {
		if cred.role == domain.RoleAdmin {
			a.mu.RUnlock()
			return nil
		}
	}
	a.mu.RUnlock()

	if strings.TrimSpace(password) == "" {
		return errors.New("no admin account exists and no bootstrap password is configured")
	}
	_, err := a.CreateUser(ctx, domain.UserCreateRequest{
		Username: username,
		Password: password,
		Name:     "Administrator",
		Role:     domain.RoleAdmin,
	})
	if err == nil {
		a.log.Warn("bootstrap admin account created", zap.String("username", username))
	}
	return err
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(domain.Actor{Username: username, Name: cred.name, Role: cred.role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Username:    username,
		Name:        cred.name,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RolePersonnel {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{Username: sub, Name: claims.Name, Role: claims.Role}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "satisledger",
		},
		Name: actor.Name,
		Role: actor.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 3 characters", store.ErrInvalidTransaction)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidTransaction)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidTransaction)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != domain.RoleAdmin && role != domain.RolePersonnel {
		return domain.UserAccount{}, fmt.Errorf("%w: role must be admin or personnel", store.ErrInvalidTransaction)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserAccount{}, fmt.Errorf("%w: username already exists", store.ErrConflict)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		ID:        "usr-" + username,
		Username:  username,
		Password:  passwordHash,
		Name:      name,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.UserAccount{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		name:     name,
		role:     role,
		active:   true,
		created:  account.CreatedAt,
	}
	a.mu.Unlock()

	account.Password = ""
	return account, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.UserAccount{
			ID:        "usr-" + username,
			Username:  username,
			Name:      user.name,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// DeleteUser removes an account. Admins cannot delete themselves.
func (a *AuthManager) DeleteUser(ctx context.Context, actor domain.Actor, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return fmt.Errorf("%w: username required", store.ErrInvalidTransaction)
	}
	if username == actor.Username {
		return fmt.Errorf("%w: cannot delete your own account", service.ErrForbidden)
	}
	if a.userStore != nil {
		if err := a.userStore.DeleteUser(ctx, username); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[username]; !ok && a.userStore == nil {
		return store.ErrNotFound
	}
	delete(a.users, username)
	return nil
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache and upgrades legacy plain-text passwords to bcrypt hashes.
// Accounts missing from the store are dropped from the cache.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn("user reload failed", zap.Error(err))
		return
	}

	loaded := make(map[string]credential, len(users))
	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.log.Warn("password upgrade failed", zap.String("username", username), zap.Error(err))
				}
			}
		}
		loaded[username] = credential{
			password: password,
			name:     user.Name,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}

	a.mu.Lock()
	a.users = loaded
	a.mu.Unlock()
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
