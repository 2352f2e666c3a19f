package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/faceauth"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"go.uber.org/zap"
)

// imageField is the multipart field carrying uploaded images.
const imageField = "file"

// Enroller registers identities.
type Enroller interface {
	Enroll(ctx context.Context, req faceauth.EnrollRequest) (*faceauth.EnrollResult, error)
}

// Authenticator decides face logins.
type Authenticator interface {
	Authenticate(ctx context.Context, img fingerprint.Image, binder faceauth.SessionBinder) (*faceauth.AuthResult, error)
}

// AuthHandler handles registration, login, profile and logout
type AuthHandler struct {
	enroller       Enroller
	authenticator  Authenticator
	identities     database.IdentityReader
	sessionManager *middleware.SessionManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	enroller Enroller,
	authenticator Authenticator,
	identities database.IdentityReader,
	sm *middleware.SessionManager,
) *AuthHandler {
	return &AuthHandler{
		enroller:       enroller,
		authenticator:  authenticator,
		identities:     identities,
		sessionManager: sm,
	}
}

// UserResponse is the public view of an identity
type UserResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	LastName     string `json:"last_name,omitempty"`
	Email        string `json:"email,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty"`
}

// RegisterResponse represents a successful registration
type RegisterResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
	Samples int          `json:"samples"`
	Dropped int          `json:"dropped"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Status    string       `json:"status"`
	Message   string       `json:"message"`
	User      UserResponse `json:"user"`
	Distance  float64      `json:"distance"`
	SessionID string       `json:"session_id"`
	ExpiresAt string       `json:"expires_at"`
}

// ProfileResponse wraps the current user
type ProfileResponse struct {
	Status string       `json:"status"`
	User   UserResponse `json:"user"`
}

// readImages reads every uploaded file of the image field.
func readImages(headers []*multipart.FileHeader) ([]fingerprint.Image, error) {
	images := make([]fingerprint.Image, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > constants.MaxImageSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, constants.MaxImageSize)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, constants.MaxImageSize))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		images = append(images, fingerprint.Image{Filename: fh.Filename, Data: data})
	}
	return images, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	return r.ParseMultipartForm(constants.MaxUploadSize)
}

// Register handles POST /api/register: profile fields plus at least five images
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	images, err := readImages(r.MultipartForm.File[imageField])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identifier := r.FormValue("identifier")
	if identifier == "" {
		identifier = r.FormValue("cedula")
	}
	lastName := r.FormValue("last_name")
	if lastName == "" {
		lastName = r.FormValue("lastname")
	}

	res, err := h.enroller.Enroll(r.Context(), faceauth.EnrollRequest{
		Profile: database.Profile{
			Name:       r.FormValue("name"),
			LastName:   lastName,
			Email:      r.FormValue("email"),
			Identifier: identifier,
		},
		Password: r.FormValue("password"),
		Images:   images,
	})
	if err != nil {
		respondFaceAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RegisterResponse{
		Status:  "success",
		Message: "user registered",
		User: UserResponse{
			ID:    res.Identity.ID,
			Name:  res.Identity.Name,
			Email: res.Identity.Email,
		},
		Samples: res.Samples,
		Dropped: res.Dropped,
	})
}

// Login handles POST /api/login with exactly one image
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	headers := r.MultipartForm.File[imageField]
	if len(headers) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}
	images, err := readImages(headers)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var session *middleware.Session
	binder := faceauth.SessionBinderFunc(func(ctx context.Context, identityID int64) error {
		s, err := h.sessionManager.CreateSession(ctx, identityID)
		if err != nil {
			return err
		}
		session = s
		return nil
	})

	res, err := h.authenticator.Authenticate(r.Context(), images[0], binder)
	if err != nil {
		respondFaceAuthError(w, err)
		return
	}

	if session == nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.sessionManager.SetSessionCookie(w, r, session)
	respondJSON(w, http.StatusOK, LoginResponse{
		Status:  "success",
		Message: fmt.Sprintf("Welcome %s!", res.Identity.Name),
		User: UserResponse{
			ID:   res.Identity.ID,
			Name: res.Identity.Name,
		},
		Distance:  roundDistance(res.Distance),
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// User handles GET /api/user for the identity bound to the session
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ident, err := h.identities.IdentityByID(r.Context(), session.IdentityID)
	if errors.Is(err, database.ErrNotFound) {
		// The identity is gone, drop the dangling session.
		h.sessionManager.DeleteSession(r.Context(), session.ID)
		h.sessionManager.ClearSessionCookie(w)
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.From(r.Context()).Error("failed to load identity",
			logger.IdentityID(session.IdentityID), logger.Err(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, ProfileResponse{
		Status: "success",
		User: UserResponse{
			ID:           ident.ID,
			Name:         ident.Name,
			LastName:     ident.LastName,
			Email:        ident.Email,
			RegisteredAt: ident.RegisteredAt.Format(time.RFC3339),
		},
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session != nil {
		h.sessionManager.DeleteSession(r.Context(), session.ID)
		logger.From(r.Context()).Info("logged out",
			logger.IdentityID(session.IdentityID),
			zap.String("user_agent", sanitizeForLog(r.UserAgent())),
		)
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
