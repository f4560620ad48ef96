package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/BradenHooton/registrar/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// okHandler records whether it ran
type okHandler struct {
	called bool
	form   string
}

func (h *okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.form = r.PostFormValue("username")
	w.WriteHeader(http.StatusOK)
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
	meta    []models.ActivityMetadata
}

func (a *recordingAuditor) Record(_ context.Context, _ string, action string, _ models.ActivityTarget, metadata models.ActivityMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.meta = append(a.meta, metadata)
}
