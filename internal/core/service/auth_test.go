package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMembers map[string]bool

func (m fakeMembers) IsMember(name string) bool { return m[name] }

type violationLog struct {
	mu    sync.Mutex
	addrs []string
}

func (v *violationLog) Violation(addr string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.addrs = append(v.addrs, addr)
	return false
}

func (v *violationLog) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.addrs)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return h
}

func newTestAuth(t *testing.T, v *violationLog) *AuthService {
	t.Helper()
	s, err := NewAuthService(AuthServiceConfig{
		ClusterSecret: "hmsec_cluster",
		Members:       fakeMembers{"n1": true, "n2": true},
		Users: []UserConfig{
			{Name: "alice", PasswordHash: mustHash(t, "wonderland"), Grants: "admin:prod guest:dev"},
		},
		Violations: v,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return s
}

func TestHashPassword(t *testing.T) {
	h := mustHash(t, "s3cret")
	if !strings.HasPrefix(h, "$argon2id$v=19$m=16384,t=2,p=2$") {
		t.Errorf("hash = %s", h)
	}
	if !VerifyPassword("s3cret", h) {
		t.Error("VerifyPassword(correct) = false")
	}
	if VerifyPassword("wrong", h) {
		t.Error("VerifyPassword(wrong) = true")
	}
	if h2 := mustHash(t, "s3cret"); h2 == h {
		t.Error("two hashes of the same password share a salt")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	for _, h := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=16,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=16,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=16,t=1,p=1$!!$aGFzaA",
		"$argon2id$v=19$m=16,t=1,p=1$c2FsdA$",
	} {
		if VerifyPassword("x", h) {
			t.Errorf("VerifyPassword(%q) = true", h)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	v := &violationLog{}
	s := newTestAuth(t, v)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      AuthRequest
		wantKind domain.IdentityKind
		wantErr  error
	}{
		{"anonymous", AuthRequest{ClientAddr: "10.0.0.1"}, domain.IdentityAnonymous, nil},
		{"node secret", AuthRequest{Username: "n2", Password: "hmsec_cluster"}, domain.IdentityNode, nil},
		{"user", AuthRequest{Username: "alice", Password: "wonderland"}, domain.IdentityUser, nil},
		{"wrong password", AuthRequest{Username: "alice", Password: "nope", ClientAddr: "10.0.0.2"}, "", domain.ErrAuthFailed},
		{"unknown user", AuthRequest{Username: "bob", Password: "x", ClientAddr: "10.0.0.3"}, "", domain.ErrAuthFailed},
		{"non member with secret", AuthRequest{Username: "n9", Password: "hmsec_cluster", ClientAddr: "10.0.0.4"}, "", domain.ErrAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.Authenticate(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("Authenticate error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && id.Kind != tt.wantKind {
				t.Errorf("identity kind = %s, want %s", id.Kind, tt.wantKind)
			}
		})
	}
	if v.count() != 3 {
		t.Errorf("violations = %v, want 3", v.addrs)
	}
}

func TestAuthenticate_UserGrants(t *testing.T) {
	s := newTestAuth(t, nil)
	id, err := s.Authenticate(context.Background(), AuthRequest{Username: "alice", Password: "wonderland"})
	if err != nil {
		t.Fatal(err)
	}
	if !id.Grants.HasOn(domain.RoleOperator, "prod") {
		t.Error("admin:prod should imply operator on prod")
	}
	if id.Grants.HasOn(domain.RoleOperator, "dev") {
		t.Error("guest:dev should not imply operator on dev")
	}
	if id.Grants.IsRoot() {
		t.Error("user identity has root")
	}

	node, _ := s.Authenticate(context.Background(), AuthRequest{Username: "n1", Password: "hmsec_cluster"})
	if !node.Grants.IsRoot() {
		t.Error("node identity lacks root")
	}
}

func TestAuthenticate_CachesVerifiedPassword(t *testing.T) {
	s := newTestAuth(t, nil)
	ctx := context.Background()
	if _, err := s.Authenticate(ctx, AuthRequest{Username: "alice", Password: "wonderland"}); err != nil {
		t.Fatal(err)
	}
	if s.cache.Size() != 1 {
		t.Fatalf("cache size = %d, want 1", s.cache.Size())
	}
	// a wrong password must not match the cached digest
	if _, err := s.Authenticate(ctx, AuthRequest{Username: "alice", Password: "other"}); !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("wrong password after caching: %v", err)
	}
	s.InvalidateCache("alice")
	if s.cache.Size() != 0 {
		t.Errorf("cache size after invalidate = %d", s.cache.Size())
	}
}

func TestNewAuthService_Rejects(t *testing.T) {
	good := mustHash(t, "x")
	tests := []struct {
		name  string
		users []UserConfig
	}{
		{"no name", []UserConfig{{PasswordHash: good, Grants: "root"}}},
		{"bad hash", []UserConfig{{Name: "a", PasswordHash: "plain", Grants: "root"}}},
		{"bad grant", []UserConfig{{Name: "a", PasswordHash: good, Grants: "admin"}}},
		{"duplicate", []UserConfig{{Name: "a", PasswordHash: good}, {Name: "a", PasswordHash: good}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAuthService(AuthServiceConfig{Users: tt.users, Logger: testLogger()}); err == nil {
				t.Error("NewAuthService succeeded")
			}
		})
	}
}

func TestCheckRateLimit(t *testing.T) {
	v := &violationLog{}
	s, err := NewAuthService(AuthServiceConfig{RateLimit: 1, RateBurst: 2, Violations: v, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.CheckRateLimit("10.0.0.1"); err != nil {
			t.Fatalf("request %d rate limited: %v", i, err)
		}
	}
	if err := s.CheckRateLimit("10.0.0.1"); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("third request error = %v, want ErrRateLimited", err)
	}
	if err := s.CheckRateLimit("10.0.0.2"); err != nil {
		t.Errorf("other address limited: %v", err)
	}
	if v.count() != 1 {
		t.Errorf("violations = %d, want 1", v.count())
	}

	if n := s.Prune(time.Now().Add(time.Minute)); n != 2 {
		t.Errorf("Prune = %d, want 2", n)
	}
}

func TestCheckRateLimit_Disabled(t *testing.T) {
	s, _ := NewAuthService(AuthServiceConfig{Logger: testLogger()})
	for i := 0; i < 100; i++ {
		if err := s.CheckRateLimit("10.0.0.1"); err != nil {
			t.Fatalf("rate limited with limiting disabled: %v", err)
		}
	}
}

func TestCredentialCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCredentialCache(2, time.Minute)
	c.now = func() time.Time { return now }

	d := func(s string) [sha256.Size]byte { return sha256.Sum256([]byte(s)) }
	c.Set("a", d("pa"))
	c.Set("b", d("pb"))
	if !c.Match("a", d("pa")) {
		t.Fatal("a not cached")
	}
	c.Set("c", d("pc")) // evicts b, the least recently used
	if c.Match("b", d("pb")) {
		t.Error("b not evicted")
	}
	if !c.Match("a", d("pa")) || !c.Match("c", d("pc")) {
		t.Error("a or c evicted")
	}

	now = now.Add(2 * time.Minute)
	if c.Match("a", d("pa")) {
		t.Error("expired entry matched")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}
