// Package identity owns the account lifecycle: OTP issuance and
// verification, password login, onboarding and the volunteer dashboard
// operations that sit on top of a provisioned account.
package identity

import (
	"context"
	"time"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/models"
	"github.com/Daskott/sheguard/server/proximity"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the subset of *models.Store the service depends on.
type Store interface {
	FindUserBy(ctx context.Context, field string, value interface{}) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, id string, data map[string]interface{}) error
	SaveUser(ctx context.Context, user *models.User) error
	ContactTaken(ctx context.Context, field, value, excludeID string) (bool, error)
	proximity.CandidateSource
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Message struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Dispatcher delivers OTP messages. Delivery is best effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// ImageUploader stores an image and returns a URL referencing it.
type ImageUploader interface {
	UploadImage(ctx context.Context, data []byte, filename string) (string, error)
}

type TokenIssuer interface {
	Issue(userID, role string) (string, error)
	Verify(token string) (*auth.SessionClaims, error)
}

// AttemptLimiter counts attempts per key inside a fixed window.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Session is a decoded session token.
type Session struct {
	UserID      string
	Role        models.Role
	Provisioned bool
}

type Config struct {
	Store      Store
	Dispatcher Dispatcher
	Uploader   ImageUploader
	Tokens     TokenIssuer

	// Limiter is optional.
	Limiter AttemptLimiter

	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *zap.SugaredLogger

	// ExposeOtp places issued codes in IssueResult. Never set in production.
	ExposeOtp bool

	// Admins lists the emails/phone numbers allowed to hold the admin role.
	// Entries that do not parse as a contact are ignored.
	Admins []string
}

type Service struct {
	store      Store
	dispatcher Dispatcher
	uploader   ImageUploader
	tokens     TokenIssuer
	limiter    AttemptLimiter
	matcher    *proximity.Matcher
	now        func() time.Time
	logger     *zap.SugaredLogger
	exposeOtp  bool
	admins     map[string]bool
}

func NewService(config Config) *Service {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	admins := map[string]bool{}
	for _, raw := range config.Admins {
		contact, err := ParseContact(raw)
		if err != nil {
			logger.Warnw("ignoring invalid admin contact", "contact", raw)
			continue
		}
		admins[contact.Value] = true
	}

	return &Service{
		store:      config.Store,
		dispatcher: config.Dispatcher,
		uploader:   config.Uploader,
		tokens:     config.Tokens,
		limiter:    config.Limiter,
		matcher:    proximity.NewMatcher(config.Store),
		now:        now,
		logger:     logger,
		exposeOtp:  config.ExposeOtp,
		admins:     admins,
	}
}

// ResolveSession decodes a session token into the identity and role it was
// issued for.
func (s *Service) ResolveSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindAuthentication, "Not authenticated")
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "Invalid or expired session", err)
	}

	return &Session{
		UserID:      claims.Subject,
		Role:        models.Role(claims.Role),
		Provisioned: claims.Provisioned,
	}, nil
}

// Me returns the caller's public profile.
func (s *Service) Me(ctx context.Context, session Session) (*models.PublicUser, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	public := user.Public()
	return &public, nil
}

// RequireAdmin fails unless the session belongs to a configured admin whose
// stored role is admin.
func (s *Service) RequireAdmin(ctx context.Context, session Session) error {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return err
	}

	return s.requireRole(user, models.RoleAdmin)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// sessionUser loads the record behind session. A token whose subject no
// longer exists is treated as unauthenticated.
func (s *Service) sessionUser(ctx context.Context, session Session) (*models.User, error) {
	if session.UserID == "" {
		return nil, apperr.New(apperr.KindAuthentication, "Not authenticated")
	}

	user, err := s.store.FindUserBy(ctx, "id", session.UserID)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindAuthentication, "Session user no longer exists")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return user, nil
}

// isAdmin reports whether one of user's contacts is on the admin list.
func (s *Service) isAdmin(user *models.User) bool {
	if user.Email != nil && s.admins[*user.Email] {
		return true
	}
	return user.Phone != nil && s.admins[*user.Phone]
}

func (s *Service) issueToken(user *models.User) (string, error) {
	token, err := s.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return "", apperr.Internal(errors.Wrap(err, "issue session token"))
	}
	return token, nil
}

// allow consults the attempt limiter. Limiter outages fail open.
func (s *Service) allow(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}

	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger.Warnw("attempt limiter unavailable", "key", key, "error", err)
		return nil
	}

	if !ok {
		return apperr.New(apperr.KindRateLimited, "Too many attempts, try again later")
	}
	return nil
}

func (s *Service) resetAttempts(ctx context.Context, key string) {
	if s.limiter == nil {
		return
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Warnw("unable to reset attempt counter", "key", key, "error", err)
	}
}
