package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookery-app/bookery/models"
)

// SessionService wraps the remote identity service: account creation,
// session lifecycle, email verification and password recovery.
type SessionService struct {
	c *Client
}

func NewSessionService(c *Client) *SessionService {
	return &SessionService{c: c}
}

type accountResponse struct {
	ID                string `json:"$id"`
	CreatedAt         string `json:"$createdAt"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	EmailVerification bool   `json:"emailVerification"`
}

func (a *accountResponse) toAccount() *models.Account {
	acct := &models.Account{
		ID:                a.ID,
		Email:             a.Email,
		Name:              a.Name,
		EmailVerification: a.EmailVerification,
	}
	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		acct.CreatedAt = t
	}
	return acct
}

type sessionResponse struct {
	ID     string `json:"$id"`
	UserID string `json:"userId"`
	Secret string `json:"secret"`
	Expire string `json:"expire"`
}

// CreateAccount registers a new account. It does not create a session;
// callers follow up with Login.
func (s *SessionService) CreateAccount(ctx context.Context, email, password, name string) (*models.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, validationErr("email", "must be provided")
	}
	if password == "" {
		return nil, validationErr("password", "must be provided")
	}
	payload := map[string]string{
		"userId":   uuid.New().String(),
		"email":    email,
		"password": password,
		"name":     name,
	}
	var resp accountResponse
	if err := s.c.doJSON(ctx, http.MethodPost, "/account", payload, &resp); err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return resp.toAccount(), nil
}

// Login creates a new email/password session. Any existing session is
// destroyed first, best-effort, so at most one client-held session exists;
// an absent prior session is not an error.
func (s *SessionService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, validationErr("credentials", "email and password must be provided")
	}

	_ = s.c.doJSON(ctx, http.MethodDelete, "/account/sessions", nil, nil)
	s.c.ClearSession()

	payload := map[string]string{"email": email, "password": password}
	var resp sessionResponse
	if err := s.c.doJSON(ctx, http.MethodPost, "/account/sessions/email", payload, &resp); err != nil {
		if st := statusOf(err); st == http.StatusUnauthorized || st == http.StatusBadRequest {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if resp.Secret != "" {
		s.c.SetSession(resp.Secret)
	}
	session := &models.Session{ID: resp.ID, UserID: resp.UserID, Secret: resp.Secret}
	if t, err := time.Parse(time.RFC3339, resp.Expire); err == nil {
		session.Expire = t
	}
	return session, nil
}

// Logout destroys all sessions for the current user. Errors are swallowed:
// "no session" is a valid end state, not a fault.
func (s *SessionService) Logout(ctx context.Context) {
	_ = s.c.doJSON(ctx, http.MethodDelete, "/account/sessions", nil, nil)
	s.c.ClearSession()
}

// CurrentUser returns the account behind the held session, or nil when there
// is none. It never returns an error; any failure reads as "not logged in".
func (s *SessionService) CurrentUser(ctx context.Context) *models.Account {
	var resp accountResponse
	if err := s.c.doJSON(ctx, http.MethodGet, "/account", nil, &resp); err != nil {
		return nil
	}
	if resp.ID == "" {
		return nil
	}
	return resp.toAccount()
}

// SendVerificationEmail asks the identity service to mail a verification
// link that redirects to redirectURL. Requires an active session.
func (s *SessionService) SendVerificationEmail(ctx context.Context, redirectURL string) error {
	if strings.TrimSpace(redirectURL) == "" {
		return validationErr("url", "verification redirect URL must be provided")
	}
	payload := map[string]string{"url": redirectURL}
	if err := s.c.doJSON(ctx, http.MethodPost, "/account/verification", payload, nil); err != nil {
		switch statusOf(err) {
		case http.StatusUnauthorized:
			return ErrNotAuthenticated
		case http.StatusBadRequest:
			return ErrInvalidRedirectDomain
		}
		return err
	}
	return nil
}

// VerifyEmail consumes the userId/secret pair from a verification link.
func (s *SessionService) VerifyEmail(ctx context.Context, userID, secret string) error {
	if userID == "" || secret == "" {
		return validationErr("verification", "user id and secret must be provided")
	}
	payload := map[string]string{"userId": userID, "secret": secret}
	if err := s.c.doJSON(ctx, http.MethodPut, "/account/verification", payload, nil); err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return ErrLinkExpired
		}
		return ErrVerificationFailed
	}
	return nil
}

// RequestPasswordReset mails a recovery link that redirects to resetURL.
// Works without a session.
func (s *SessionService) RequestPasswordReset(ctx context.Context, email, resetURL string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return validationErr("email", "must be provided")
	}
	if strings.TrimSpace(resetURL) == "" {
		return validationErr("url", "reset redirect URL must be provided")
	}
	payload := map[string]string{"email": email, "url": resetURL}
	return s.c.doJSON(ctx, http.MethodPost, "/account/recovery", payload, nil)
}

// ConfirmPasswordReset exchanges the recovery token for a new password.
func (s *SessionService) ConfirmPasswordReset(ctx context.Context, userID, secret, newPassword string) error {
	if userID == "" || secret == "" {
		return validationErr("recovery", "user id and secret must be provided")
	}
	if newPassword == "" {
		return validationErr("password", "must be provided")
	}
	payload := map[string]string{"userId": userID, "secret": secret, "password": newPassword}
	if err := s.c.doJSON(ctx, http.MethodPut, "/account/recovery", payload, nil); err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

// CreateJWT exchanges the session for a short-lived API token. The token is
// installed on the client and sent alongside the session until it expires;
// expiry is checked locally so a dead token is never replayed.
func (s *SessionService) CreateJWT(ctx context.Context) (string, error) {
	var resp struct {
		JWT string `json:"jwt"`
	}
	if err := s.c.doJSON(ctx, http.MethodPost, "/account/jwts", nil, &resp); err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return "", ErrNotAuthenticated
		}
		return "", err
	}
	s.c.setJWT(resp.JWT)
	return resp.JWT, nil
}
