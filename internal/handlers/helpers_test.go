package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/repositories"
	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newJSONRequest creates a request with a JSON body bound to sc
func newJSONRequest(t *testing.T, method, target string, body interface{}, sc *models.SessionContext) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sc != nil {
		req = req.WithContext(auth.WithSession(req.Context(), sc))
	}
	return req
}

// newFormRequest creates an urlencoded form post bound to sc
func newFormRequest(method, target string, form url.Values, sc *models.SessionContext) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sc != nil {
		req = req.WithContext(auth.WithSession(req.Context(), sc))
	}
	return req
}

// assertJSONResponse checks the status and decodes the JSON body into target
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// assertErrorResponse checks that response is a valid error response
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// mockLoginCoordinator implements handlers.LoginCoordinator for testing
type mockLoginCoordinator struct {
	SubmitLoginFunc  func(ctx context.Context, sc *models.SessionContext, req services.LoginRequest) (*services.PendingResult, error)
	SubmitOTPFunc    func(ctx context.Context, sc *models.SessionContext, req services.VerifyOTPRequest) (*services.LoginResult, error)
	ResendOTPFunc    func(ctx context.Context, sc *models.SessionContext, email string) (*services.PendingResult, error)
	ObservePageFunc  func(ctx context.Context, sc *models.SessionContext, keepPending bool) services.PageState
	clearPendingHits int
	logoutHits       int
}

func (m *mockLoginCoordinator) SubmitLogin(ctx context.Context, sc *models.SessionContext, req services.LoginRequest) (*services.PendingResult, error) {
	if m.SubmitLoginFunc != nil {
		return m.SubmitLoginFunc(ctx, sc, req)
	}
	return nil, nil
}

func (m *mockLoginCoordinator) SubmitOTP(ctx context.Context, sc *models.SessionContext, req services.VerifyOTPRequest) (*services.LoginResult, error) {
	if m.SubmitOTPFunc != nil {
		return m.SubmitOTPFunc(ctx, sc, req)
	}
	return nil, nil
}

func (m *mockLoginCoordinator) ResendOTP(ctx context.Context, sc *models.SessionContext, email string) (*services.PendingResult, error) {
	if m.ResendOTPFunc != nil {
		return m.ResendOTPFunc(ctx, sc, email)
	}
	return nil, nil
}

func (m *mockLoginCoordinator) ClearPending(_ context.Context, sc *models.SessionContext) {
	m.clearPendingHits++
	sc.Pending = nil
}

func (m *mockLoginCoordinator) ObservePage(ctx context.Context, sc *models.SessionContext, keepPending bool) services.PageState {
	if m.ObservePageFunc != nil {
		return m.ObservePageFunc(ctx, sc, keepPending)
	}
	return services.PageState{Step: services.StepCredentials}
}

func (m *mockLoginCoordinator) Logout(_ context.Context, sc *models.SessionContext) {
	m.logoutHits++
	sc.ClearAuthentication()
}

// mockPasswordResetter implements handlers.PasswordResetter for testing
type mockPasswordResetter struct {
	RequestResetFunc func(ctx context.Context, email string) error
	ConfirmResetFunc func(ctx context.Context, email, code, newPassword string) error
}

func (m *mockPasswordResetter) RequestReset(ctx context.Context, email string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return nil
}

func (m *mockPasswordResetter) ConfirmReset(ctx context.Context, email, code, newPassword string) error {
	if m.ConfirmResetFunc != nil {
		return m.ConfirmResetFunc(ctx, email, code, newPassword)
	}
	return nil
}

// mockActivityLister implements handlers.ActivityLister for testing
type mockActivityLister struct {
	ListFunc func(ctx context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error)
}

func (m *mockActivityLister) List(ctx context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error) {
	return m.ListFunc(ctx, filter)
}
