package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/google/uuid"
)

type contextKey string

const sessionContextKey contextKey = "session_context"

// SessionContextStore persists SessionContext values between requests
type SessionContextStore interface {
	Get(ctx context.Context, id string) (*models.SessionContext, error)
	Save(ctx context.Context, sc *models.SessionContext, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// SessionStore loads the browser's SessionContext at the start of a request
// and writes it back, with a freshly signed cookie, before the response.
type SessionStore struct {
	repo    SessionContextStore
	signer  *SessionCookieSigner
	cookies CookieConfig
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewSessionStore(repo SessionContextStore, signer *SessionCookieSigner, cookies CookieConfig, ttl time.Duration, now func() time.Time, logger *slog.Logger) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		repo:    repo,
		signer:  signer,
		cookies: cookies,
		ttl:     ttl,
		now:     now,
		logger:  logger,
	}
}

// New returns an empty anonymous context
func (s *SessionStore) New() *models.SessionContext {
	return &models.SessionContext{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
	}
}

// Load resolves the request's cookie to a stored context. A missing, forged or
// expired reference yields a new anonymous context; only a store failure is an error.
func (s *SessionStore) Load(ctx context.Context, r *http.Request) (*models.SessionContext, error) {
	value, err := GetSessionCookie(r)
	if err != nil {
		return s.New(), nil
	}

	sid, err := s.signer.Parse(value)
	if err != nil {
		return s.New(), nil
	}

	sc, err := s.repo.Get(ctx, sid)
	if errors.Is(err, models.ErrNotFound) {
		return s.New(), nil
	}
	if err != nil {
		return nil, err
	}

	return sc, nil
}

// Save persists sc, drops the id it was regenerated from, and refreshes the cookie.
func (s *SessionStore) Save(ctx context.Context, w http.ResponseWriter, sc *models.SessionContext) error {
	if err := s.repo.Save(ctx, sc, s.ttl); err != nil {
		return err
	}

	if sc.PreviousID != "" {
		if err := s.repo.Delete(ctx, sc.PreviousID); err != nil {
			s.logger.WarnContext(ctx, "failed to drop regenerated session", slog.Any("error", err))
		}
		sc.PreviousID = ""
	}

	value, err := s.signer.Sign(sc.ID)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}
	SetSessionCookie(w, value, s.ttl, s.cookies)
	return nil
}

// Regenerate moves sc to a new id. The old id is deleted on the next Save.
func Regenerate(sc *models.SessionContext) {
	if sc.PreviousID == "" {
		sc.PreviousID = sc.ID
	}
	sc.ID = uuid.New().String()
}

// WithSession stores sc in ctx, mainly for tests of downstream handlers.
func WithSession(ctx context.Context, sc *models.SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}

// SessionFromContext returns the request's SessionContext, or nil outside LoadSession
func SessionFromContext(ctx context.Context) *models.SessionContext {
	sc, _ := ctx.Value(sessionContextKey).(*models.SessionContext)
	return sc
}

// LoadSession makes the SessionContext available to handlers and commits it
// before the first byte of the response. Store failures fail closed with 503.
func LoadSession(store *SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, err := store.Load(r.Context(), r)
			if err != nil {
				store.logger.ErrorContext(r.Context(), "session store unavailable", slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
				return
			}

			sw := &sessionWriter{ResponseWriter: w, store: store, sc: sc, ctx: r.Context()}
			next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sc)))
			sw.commit()
		})
	}
}

type sessionWriter struct {
	http.ResponseWriter
	store     *SessionStore
	sc        *models.SessionContext
	ctx       context.Context
	committed bool
	failed    bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	if err := w.store.Save(w.ctx, w.ResponseWriter, w.sc); err != nil {
		w.failed = true
		w.store.logger.ErrorContext(w.ctx, "failed to save session", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w.ResponseWriter, "Service temporarily unavailable")
	}
}

func (w *sessionWriter) WriteHeader(statusCode int) {
	w.commit()
	if w.failed {
		return
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	if w.failed {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
