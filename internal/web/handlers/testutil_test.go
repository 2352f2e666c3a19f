package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kozaktomas/face-auth/internal/classifier"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/faceauth"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
)

const testDim = 4

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// fakeExtractor maps image payloads to embeddings. Unknown payloads have no face.
type fakeExtractor struct {
	mu    sync.Mutex
	faces map[string][]float32
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emb, ok := f.faces[string(data)]
	if !ok {
		return nil, fingerprint.ErrNoFace
	}
	return emb, nil
}

// face registers a png payload whose embedding is value on every axis.
func (f *fakeExtractor) face(name string, value float32) []byte {
	data := append(append([]byte{}, pngMagic...), name...)
	emb := make([]float32, testDim)
	for i := range emb {
		emb[i] = value
	}
	f.mu.Lock()
	f.faces[string(data)] = emb
	f.mu.Unlock()
	return data
}

// testEnv wires an AuthHandler over an in-memory store.
type testEnv struct {
	store     *mock.MockDescriptorStore
	extractor *fakeExtractor
	sessions  *middleware.SessionManager
	handler   *AuthHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := mock.NewMockDescriptorStore()
	extractor := &fakeExtractor{faces: make(map[string][]float32)}
	cache := classifier.NewCache(store, 3, "")
	sm := middleware.NewSessionManager("test-secret", nil)
	t.Cleanup(sm.Stop)

	enroller := faceauth.NewEnroller(store, extractor, cache, faceauth.EnrollerOptions{})
	authenticator := faceauth.NewAuthenticator(store, facematch.NewMatcher(store, 0.5), cache, extractor, faceauth.AuthenticatorOptions{})

	return &testEnv{
		store:     store,
		extractor: extractor,
		sessions:  sm,
		handler:   NewAuthHandler(enroller, authenticator, store, sm),
	}
}

// upload is one file part of a multipart request
type upload struct {
	name string
	data []byte
}

// multipartRequest builds a POST request with form fields and files under "file"
func multipartRequest(t *testing.T, path string, fields map[string]string, files []upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(imageField, f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// faces registers n face images for one person
func (e *testEnv) faces(prefix string, value float32, n int) []upload {
	out := make([]upload, n)
	for i := range out {
		name := fmt.Sprintf("%s-%d", prefix, i)
		out[i] = upload{name: name + ".png", data: e.extractor.face(name, value)}
	}
	return out
}

func registrationFields(email, identifier string) map[string]string {
	return map[string]string{
		"name":     "Ana",
		"lastname": "Perez",
		"email":    email,
		"cedula":   identifier,
		"password": "s3cret",
	}
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}
