package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/repositories"
	"github.com/BradenHooton/registrar/internal/services"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errStoreDown = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUsers is an in-memory users table
type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User
	err  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*models.User{}}
}

func (f *fakeUsers) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.IsActive = true
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) get(id string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *f.byID[id]
	return &u
}

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.IsActive && match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeUsers) GetActiveByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (f *fakeUsers) GetActiveByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) StartSession(_ context.Context, id, token string, expires, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	u.SessionToken, u.SessionExpires, u.LastLogin = &token, &expires, &now
	return nil
}

func (f *fakeUsers) ExtendSession(_ context.Context, id, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.byID[id]
	if !ok || u.SessionToken == nil || *u.SessionToken != token {
		return models.ErrNotFound
	}
	u.SessionExpires = &expires
	return nil
}

func (f *fakeUsers) ClearSession(_ context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if u, ok := f.byID[id]; ok && u.SessionToken != nil && *u.SessionToken == token {
		u.SessionToken, u.SessionExpires = nil, nil
	}
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.SessionToken, u.SessionExpires = nil, nil
	return nil
}

func (f *fakeUsers) UpgradeLegacyPassword(_ context.Context, id, legacy, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.PasswordHash != legacy {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// fakeLockouts mirrors the conditional upsert in LockoutRepository.Reserve
type fakeLockouts struct {
	mu       sync.Mutex
	counters map[string]*models.LockoutCounter
	err      error
	writes   int
}

func newFakeLockouts() *fakeLockouts {
	return &fakeLockouts{counters: map[string]*models.LockoutCounter{}}
}

func (f *fakeLockouts) Reserve(_ context.Context, key string, threshold int, window time.Duration, now time.Time) (*models.LockoutCounter, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	c, ok := f.counters[key]
	if ok && c.IsLocked(threshold, window, now) {
		cp := *c
		return &cp, false, nil
	}
	f.writes++
	if !ok || !c.LastAttemptAt.After(now.Add(-window)) {
		c = &models.LockoutCounter{IdentityKey: key}
		f.counters[key] = c
	}
	c.Attempts++
	c.LastAttemptAt = now
	cp := *c
	return &cp, true, nil
}

func (f *fakeLockouts) Clear(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.counters, key)
	return nil
}

func (f *fakeLockouts) attempts(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[models.LockoutIdentityKey(username)]; ok {
		return c.Attempts
	}
	return 0
}

// fakeOTPs mirrors the transactional behaviour of OTPRepository
type fakeOTPs struct {
	mu      sync.Mutex
	records []*models.OTPRecord
	err     error
}

func (f *fakeOTPs) CreateWithCooldown(_ context.Context, rec *models.OTPRecord, cooldown time.Duration, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, r := range f.records {
		if strings.EqualFold(r.Email, rec.Email) && r.Purpose == rec.Purpose && r.IsLive(now) && r.CreatedAt.After(now.Add(-cooldown)) {
			return models.ErrRateLimited
		}
	}
	for _, r := range f.records {
		if strings.EqualFold(r.Email, rec.Email) && r.Purpose == rec.Purpose && !r.IsVerified {
			r.IsVerified = true
		}
	}
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeOTPs) VerifyLatest(_ context.Context, email, purpose string, now time.Time, check func(*models.OTPRecord) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var latest *models.OTPRecord
	for _, r := range f.records {
		if strings.EqualFold(r.Email, email) && r.Purpose == purpose && r.IsLive(now) {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	if latest == nil {
		return models.ErrOTPInvalid
	}
	return check(latest)
}

func (f *fakeOTPs) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.records {
		if r.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeOTPs) InvalidateAll(_ context.Context, userID, purpose string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, r := range f.records {
		if r.UserID == userID && !r.IsVerified && (purpose == "" || r.Purpose == purpose) {
			r.IsVerified = true
			n++
		}
	}
	return n, nil
}

func (f *fakeOTPs) PurgeExpired(_ context.Context, threshold time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	kept := f.records[:0]
	var n int64
	for _, r := range f.records {
		if r.ExpiresAt.Before(threshold) || (r.IsVerified && r.CreatedAt.Before(threshold)) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return n, nil
}

func (f *fakeOTPs) latest(email, purpose string) *models.OTPRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.OTPRecord
	for _, r := range f.records {
		if strings.EqualFold(r.Email, email) && r.Purpose == purpose {
			if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

func (f *fakeOTPs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type sentCode struct {
	Email, DisplayName, Code, Purpose string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (g *fakeGateway) Send(_ context.Context, email, displayName, code, purpose string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, sentCode{email, displayName, code, purpose})
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type auditEntry struct {
	ActorID  string
	Action   string
	Target   models.ActivityTarget
	Metadata models.ActivityMetadata
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAuditor) Record(_ context.Context, actorID, action string, target models.ActivityTarget, metadata models.ActivityMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{actorID, action, target, metadata})
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *recordingAuditor) count(action string) int {
	n := 0
	for _, got := range a.actions() {
		if got == action {
			n++
		}
	}
	return n
}

type fakeActivityRepo struct {
	mu       sync.Mutex
	entries  []*models.ActivityLog
	err      error
	ctxErrs  []error
	lastList repositories.ActivityFilter
}

func (f *fakeActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeActivityRepo) List(_ context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = filter
	if f.err != nil {
		return nil, f.err
	}
	out := append([]*models.ActivityLog(nil), f.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type fakeRateLimitRepo struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateLimitRepo() *fakeRateLimitRepo {
	return &fakeRateLimitRepo{counts: map[string]int64{}}
}

func (f *fakeRateLimitRepo) Increment(_ context.Context, action, identity string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[action+"|"+identity]++
	return f.counts[action+"|"+identity], nil
}

func (f *fakeRateLimitRepo) count(action, identity string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[action+"|"+identity]
}

func (f *fakeRateLimitRepo) Reset(_ context.Context, action, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.counts, action+"|"+identity)
	return nil
}

const (
	aliceID       = "8b0f8f1e-7d4c-4a55-9c3e-0d5d1c2f6a01"
	bobID         = "3c6f0a52-5b8e-4f8a-a0b4-7e2d9f1c4b02"
	alicePassword = "correct"
	loginCode     = "123456"
)

// harness wires every service over the fakes with a controllable clock
type harness struct {
	clock       *fakeClock
	users       *fakeUsers
	lockouts    *fakeLockouts
	otpRepo     *fakeOTPs
	gateway     *fakeGateway
	audit       *recordingAuditor
	buckets     *fakeRateLimitRepo
	hasher      *pkgauth.Hasher
	csrf        *auth.CSRFGuard
	credentials *services.CredentialService
	otps        *services.OTPService
	limiter     *services.RateLimitService
	sessions    *services.SessionService
	login       *services.LoginService
	resets      *services.PasswordResetService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		users:    newFakeUsers(),
		lockouts: newFakeLockouts(),
		otpRepo:  &fakeOTPs{},
		gateway:  &fakeGateway{},
		audit:    &recordingAuditor{},
		buckets:  newFakeRateLimitRepo(),
		hasher:   pkgauth.NewHasher(bcrypt.MinCost),
	}
	aliceHash, err := h.hasher.Hash(alicePassword)
	require.NoError(t, err)
	h.users.add(&models.User{ID: aliceID, Username: "alice", Email: "alice@x.com", FullName: "Alice Liddell", PasswordHash: aliceHash, RoleID: models.RoleStudent})

	bobHash, err := h.hasher.Hash("bob-password")
	require.NoError(t, err)
	h.users.add(&models.User{ID: bobID, Username: "bob", Email: "bob@x.com", PasswordHash: bobHash, RoleID: models.RoleTeacher})

	logger := discardLogger()
	h.csrf = auth.NewCSRFGuard(time.Hour, h.clock.Now)

	h.credentials = services.NewCredentialService(h.users, h.lockouts, h.hasher, nil, h.audit,
		services.CredentialConfig{LockoutThreshold: 5, LockoutDuration: 15 * time.Minute}, h.clock.Now, logger)

	h.otps = services.NewOTPService(h.otpRepo, h.gateway, auth.StaticCodeGenerator{Code: loginCode}, h.audit,
		services.OTPConfig{TTL: 300 * time.Second, ResendCooldown: 60 * time.Second, MaxAttempts: 3, SendTimeout: time.Second},
		h.clock.Now, logger)

	h.sessions = services.NewSessionService(h.users, h.otps, models.DefaultRolePolicies, h.audit, time.Hour, h.clock.Now, logger)

	h.limiter = services.NewRateLimitService(h.buckets, nil, logger)
	h.login = services.NewLoginService(h.credentials, h.otps, h.sessions, h.users, h.csrf, h.limiter,
		models.DefaultRolePolicies, h.audit, 10*time.Minute, h.clock.Now, logger)

	h.resets = services.NewPasswordResetService(h.users, h.otps, h.credentials, h.hasher, h.audit, logger)

	return h
}

// newSession returns an anonymous context with a live CSRF token
func (h *harness) newSession(t *testing.T) *models.SessionContext {
	t.Helper()
	sc := &models.SessionContext{ID: "sess-" + h.clock.Now().Format("150405.000000000"), CreatedAt: h.clock.Now()}
	_, err := h.csrf.Issue(sc)
	require.NoError(t, err)
	return sc
}

// loggedIn walks sc through the full alice login
func (h *harness) loggedIn(t *testing.T) *models.SessionContext {
	t.Helper()
	ctx := context.Background()
	sc := h.newSession(t)

	_, err := h.login.SubmitLogin(ctx, sc, services.LoginRequest{Username: "alice", Password: alicePassword})
	require.NoError(t, err)
	_, err = h.login.SubmitOTP(ctx, sc, services.VerifyOTPRequest{Email: "alice@x.com", Code: loginCode})
	require.NoError(t, err)
	require.True(t, sc.IsAuthenticated())
	return sc
}
