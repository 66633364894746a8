package service

import (
	"container/list"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/time/rate"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Argon2id parameters used by HashPassword.
const (
	argon2Time    = 2
	argon2Memory  = 16 * 1024
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// UserConfig declares a user allowed on the TCP listener.
type UserConfig struct {
	Name string `koanf:"name"`

	// PasswordHash is an argon2id hash, see HashPassword.
	PasswordHash string `koanf:"password_hash"`

	// Grants uses the domain.ParseGrants syntax.
	Grants string `koanf:"grants"`
}

// Membership reports cluster membership for node authentication.
type Membership interface {
	IsMember(nodename string) bool
}

// ViolationRecorder receives authentication and rate limit failures.
type ViolationRecorder interface {
	Violation(addr string) bool
}

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	// ClusterSecret authenticates peer nodes. Nodes log in with their
	// node name and the cluster secret.
	ClusterSecret string

	Members Membership
	Users   []UserConfig

	// CacheTTL is how long a verified password skips argon2 (default: 60s).
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached credentials (default: 1024).
	CacheSize int

	// RateLimit is the sustained requests per second allowed per client
	// address. Zero disables rate limiting.
	RateLimit float64
	RateBurst int

	Violations ViolationRecorder
	Logger     *slog.Logger
}

type user struct {
	name   string
	hash   string
	grants domain.Grants
}

// AuthService authenticates listener callers.
type AuthService struct {
	secret       []byte
	members      Membership
	users        map[string]user
	cache        *CredentialCache
	rateLimiters *RateLimiterRegistry
	violations   ViolationRecorder
	logger       *slog.Logger
}

// AuthRequest carries the credentials presented by a caller.
type AuthRequest struct {
	Username   string
	Password   string
	ClientAddr string
}

// HasCredentials reports whether the caller presented credentials.
func (r AuthRequest) HasCredentials() bool {
	return r.Username != "" || r.Password != ""
}

// NewAuthService creates an AuthService. Invalid user grants are
// rejected.
func NewAuthService(cfg AuthServiceConfig) (*AuthService, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	users := make(map[string]user, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.Name == "" {
			return nil, domain.ErrInvalidArgument.WithDetails("user without name")
		}
		if _, dup := users[u.Name]; dup {
			return nil, domain.ErrInvalidArgument.WithDetailsf("duplicate user %s", u.Name)
		}
		if _, _, _, _, err := parseArgon2Hash(u.PasswordHash); err != nil {
			return nil, domain.ErrInvalidArgument.WithDetailsf("user %s: %v", u.Name, err)
		}
		g, err := domain.ParseGrants(u.Grants)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Name, err)
		}
		users[u.Name] = user{name: u.Name, hash: u.PasswordHash, grants: g}
	}

	return &AuthService{
		secret:       []byte(cfg.ClusterSecret),
		members:      cfg.Members,
		users:        users,
		cache:        NewCredentialCache(cfg.CacheSize, cfg.CacheTTL),
		rateLimiters: NewRateLimiterRegistry(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		violations:   cfg.Violations,
		logger:       cfg.Logger.With("component", "auth"),
	}, nil
}

// Authenticate derives the caller identity.
//
// Callers without credentials are anonymous. A cluster member name with
// the cluster secret yields a node identity. Configured users are
// verified against their argon2id hash. Rejected credentials count as a
// violation for the client address.
func (s *AuthService) Authenticate(ctx context.Context, req AuthRequest) (domain.Identity, error) {
	if !req.HasCredentials() {
		return domain.AnonymousIdentity(), nil
	}

	if s.members != nil && len(s.secret) > 0 && s.members.IsMember(req.Username) {
		if subtle.ConstantTimeCompare([]byte(req.Password), s.secret) == 1 {
			return domain.NodeIdentity(req.Username), nil
		}
	}

	if u, ok := s.users[req.Username]; ok {
		digest := sha256.Sum256([]byte(req.Password))
		if s.cache.Match(u.name, digest) {
			return userIdentity(u), nil
		}
		if VerifyPassword(req.Password, u.hash) {
			s.cache.Set(u.name, digest)
			return userIdentity(u), nil
		}
	}

	s.violation(req.ClientAddr)
	s.logger.Warn("authentication failed", "user", req.Username, "addr", req.ClientAddr)
	return domain.Identity{}, domain.ErrAuthFailed
}

func userIdentity(u user) domain.Identity {
	return domain.Identity{Kind: domain.IdentityUser, Name: u.name, Grants: u.grants}
}

// CheckRateLimit checks the per-address request rate. Denials count as a
// violation for the address.
func (s *AuthService) CheckRateLimit(addr string) error {
	limiter := s.rateLimiters.GetOrCreate(addr)
	if limiter == nil || limiter.Allow() {
		return nil
	}
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	s.violation(addr)
	return domain.ErrRateLimited.WithDetails("retry after " + delay.String())
}

// Prune drops rate limiters idle since before cutoff and returns how
// many were dropped.
func (s *AuthService) Prune(cutoff time.Time) int {
	return s.rateLimiters.Prune(cutoff)
}

// InvalidateCache forgets the cached credential of a user.
func (s *AuthService) InvalidateCache(name string) {
	s.cache.Delete(name)
}

func (s *AuthService) violation(addr string) {
	if s.violations == nil || addr == "" {
		return
	}
	if s.violations.Violation(addr) {
		s.logger.Warn("address blacklisted", "addr", addr)
	}
}

// HashPassword returns an argon2id hash of password in the
// $argon2id$v=19$m=<kib>,t=<n>,p=<n>$<salt>$<hash> format.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword verifies password against an argon2id hash produced by
// HashPassword, using the parameters encoded in the hash.
func VerifyPassword(password, hash string) bool {
	params, salt, expected, threads, err := parseArgon2Hash(hash)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

type argon2Params struct {
	memory uint32
	time   uint32
}

func parseArgon2Hash(hash string) (argon2Params, []byte, []byte, uint8, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("not an argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}
	var (
		p       argon2Params
		threads uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("parse argon2 parameters: %w", err)
	}
	if p.memory == 0 || p.time == 0 || threads == 0 {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("invalid argon2 parameters %q", parts[3])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("decode hash: %w", err)
	}
	if len(key) == 0 {
		return argon2Params{}, nil, nil, 0, fmt.Errorf("empty hash")
	}
	return p, salt, key, threads, nil
}

// ============================================================================
// CredentialCache - LRU Cache for Verified Passwords
// ============================================================================

// CredentialCache remembers the SHA-256 digest of recently verified
// passwords so repeated requests skip argon2. Entries expire after ttl.
type CredentialCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type cacheEntry struct {
	name      string
	digest    [sha256.Size]byte
	expiresAt time.Time
}

// NewCredentialCache creates a CredentialCache with LRU eviction.
func NewCredentialCache(capacity int, ttl time.Duration) *CredentialCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &CredentialCache{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Match reports whether digest is the cached, unexpired digest of name.
func (c *CredentialCache) Match(name string, digest [sha256.Size]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[name]
	if !ok {
		return false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, name)
		return false
	}
	if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) != 1 {
		return false
	}
	c.order.MoveToFront(elem)
	return true
}

// Set caches digest for name, evicting the least recently used entry
// at capacity.
func (c *CredentialCache) Set(name string, digest [sha256.Size]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[name]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.digest = digest
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		delete(c.items, oldest.Value.(*cacheEntry).name)
		c.order.Remove(oldest)
	}
	c.items[name] = c.order.PushFront(&cacheEntry{
		name:      name,
		digest:    digest,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Delete removes name from the cache.
func (c *CredentialCache) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[name]; ok {
		c.order.Remove(elem)
		delete(c.items, name)
	}
}

// Size returns the current number of cached credentials.
func (c *CredentialCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ============================================================================
// RateLimiterRegistry - Per Address Rate Limiters
// ============================================================================

// RateLimiterRegistry manages one token bucket per client address.
type RateLimiterRegistry struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiterRegistry creates a registry handing out limiters of
// limit events per second. A zero limit disables limiting.
func NewRateLimiterRegistry(limit rate.Limit, burst int) *RateLimiterRegistry {
	if burst <= 0 {
		burst = max(1, int(limit))
	}
	return &RateLimiterRegistry{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// GetOrCreate returns the limiter of addr, or nil when limiting is
// disabled.
func (r *RateLimiterRegistry) GetOrCreate(addr string) *rate.Limiter {
	if r.limit <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.limiters[addr]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[addr] = e
	}
	e.lastSeen = r.now()
	return e.limiter
}

// Prune drops limiters not used since cutoff.
func (r *RateLimiterRegistry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for addr, e := range r.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(r.limiters, addr)
			n++
		}
	}
	return n
}

// Len returns the number of tracked addresses.
func (r *RateLimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
