package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryRepo is an in-memory SessionRepository
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]StoredSession
	saveErr  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]StoredSession)}
}

func (m *memoryRepo) Save(_ context.Context, id string, identityID int64, createdAt, expiresAt time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = StoredSession{ID: id, IdentityID: identityID, CreatedAt: createdAt, ExpiresAt: expiresAt}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryRepo) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if time.Now().After(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func newTestManager(t *testing.T, repo SessionRepository) *SessionManager {
	t.Helper()
	sm := NewSessionManager("test-secret", repo)
	t.Cleanup(sm.Stop)
	return sm
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm := newTestManager(t, nil)

	session, err := sm.CreateSession(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if session.IdentityID != 42 {
		t.Errorf("IdentityID = %d, want 42", session.IdentityID)
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Error("session expires in the past")
	}
}

func TestSessionManager_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, nil)

	session, _ := sm.CreateSession(ctx, 7)

	retrieved := sm.GetSession(ctx, session.ID)
	if retrieved == nil {
		t.Fatal("GetSession() returned nil for existing session")
	}
	if retrieved.IdentityID != 7 {
		t.Errorf("IdentityID = %d, want 7", retrieved.IdentityID)
	}

	if sm.GetSession(ctx, "nonexistent-id") != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}

	sm.DeleteSession(ctx, session.ID)
	if sm.GetSession(ctx, session.ID) != nil {
		t.Error("GetSession() should return nil after deletion")
	}
}

func TestSessionManager_Expired(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, nil)

	session, _ := sm.CreateSession(ctx, 1)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	if sm.GetSession(ctx, session.ID) != nil {
		t.Error("GetSession() should return nil for an expired session")
	}
}

func TestSessionManager_Repository(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()

	first := newTestManager(t, repo)
	session, err := first.CreateSession(ctx, 9)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// A fresh manager (process restart) finds the session in the repository.
	second := newTestManager(t, repo)
	restored := second.GetSession(ctx, session.ID)
	if restored == nil {
		t.Fatal("session was not restored from the repository")
	}
	if restored.IdentityID != 9 {
		t.Errorf("IdentityID = %d, want 9", restored.IdentityID)
	}

	second.DeleteSession(ctx, session.ID)
	if _, ok := repo.sessions[session.ID]; ok {
		t.Error("DeleteSession() should remove the session from the repository")
	}

	repo.saveErr = errors.New("db down")
	if _, err := second.CreateSession(ctx, 1); err == nil {
		t.Error("CreateSession() should fail when the repository fails")
	}
}

func TestSessionManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	sm := newTestManager(t, repo)

	session, _ := sm.CreateSession(ctx, 3)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	repo.sessions[session.ID] = StoredSession{ID: session.ID, IdentityID: 3, ExpiresAt: session.ExpiresAt}

	sm.cleanup(ctx)

	sm.mu.RLock()
	_, inMemory := sm.sessions[session.ID]
	sm.mu.RUnlock()
	if inMemory {
		t.Error("cleanup() should drop expired sessions from memory")
	}
	if len(repo.sessions) != 0 {
		t.Error("cleanup() should drop expired sessions from the repository")
	}
}

func TestSessionManager_SetAndGetSessionCookie(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), 5)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/login", nil)
	sm.SetSessionCookie(w, r, session)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(sessionCookie)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil")
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_InvalidCookie(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), 5)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{
		Name:  sessionCookieName,
		Value: session.ID + ".forged-signature",
	})

	if sm.GetSessionFromRequest(req) != nil {
		t.Error("GetSessionFromRequest() should return nil for invalid signature")
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), 5)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil for Bearer auth")
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestRequireAuth(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), 11)

	handlerCalled := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		s := GetSessionFromContext(r.Context())
		if s == nil || s.IdentityID != 11 {
			t.Error("Session not found in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	protectedHandler := RequireAuth(sm)(testHandler)

	t.Run("valid session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/user", nil)
		req.Header.Set("Authorization", "Bearer "+session.ID)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if !handlerCalled {
			t.Error("Handler was not called")
		}
	})

	t.Run("no session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/user", nil)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if handlerCalled {
			t.Error("Handler should not be called for unauthorized request")
		}
	})
}

func TestSession_MarshalJSON(t *testing.T) {
	session := &Session{
		ID:         "test123",
		IdentityID: 987654,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	}

	data, err := session.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	jsonStr := string(data)
	if strings.Contains(jsonStr, "987654") {
		t.Error("JSON should not contain the identity id")
	}
	if !strings.Contains(jsonStr, "test123") {
		t.Error("JSON should contain session_id")
	}
}

func TestCORS(t *testing.T) {
	handler := CORS("https://app.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.example.com", true},
		{"http://localhost:5173", true},
		{"https://evil.example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.allowed && got != "" {
				t.Errorf("Allow-Origin = %q, want empty", got)
			}
		})
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/login", nil))
	if w.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", w.Code)
	}
}
