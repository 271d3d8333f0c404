package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/models"
	"github.com/pkg/errors"
)

const (
	OTPLength   = 6
	OTPLifetime = 10 * time.Minute

	otpEmailSubject = "Your OTP Code"
	otpCodeToken    = "{{OTP_CODE}}"
)

const otpEmailTemplate = `<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; background-color: #f7f7f7; padding: 24px;">
    <div style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 32px;">
      <h2 style="color: #b0185a; margin-top: 0;">SheGuard verification</h2>
      <p>Use the code below to sign in. It expires in 10 minutes.</p>
      <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center;">{{OTP_CODE}}</p>
      <p style="color: #777777; font-size: 12px;">If you did not request this code you can ignore this email.</p>
    </div>
  </body>
</html>
`

type IssueResult struct {
	UserExists bool `json:"userExists"`

	// Code is only populated when the service exposes codes (dev mode).
	Code string `json:"otp,omitempty"`
}

type VerifyResult struct {
	User                   models.PublicUser `json:"user"`
	Token                  string            `json:"-"`
	IsRegistrationComplete bool              `json:"isRegistrationComplete"`
}

type LoginResult struct {
	User  models.PublicUser `json:"user"`
	Token string            `json:"-"`
}

// IssueOtp generates a fresh code for contact, creating the account on first
// contact, and hands it to the dispatcher. Any earlier pending code is
// replaced.
func (s *Service) IssueOtp(ctx context.Context, rawContact string) (*IssueResult, error) {
	contact, err := ParseContact(rawContact)
	if err != nil {
		return nil, err
	}

	if err := s.allow(ctx, "otp:issue:"+contact.Value); err != nil {
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	expiresAt := s.now().Add(OTPLifetime)

	userExists := true
	user, err := s.store.FindUserBy(ctx, contact.Field, contact.Value)
	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		userExists = false
		user = &models.User{OTP: code, OTPExpiresAt: &expiresAt}
		setContact(user, contact)

		err = s.store.CreateUser(ctx, user)
		if errors.Is(err, models.ErrDuplicateContact) {
			return nil, apperr.Wrap(apperr.KindConflict, "Contact already in use", err)
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
	case err != nil:
		return nil, apperr.Internal(err)
	default:
		err = s.store.UpdateUser(ctx, user.ID, map[string]interface{}{
			"otp":            code,
			"otp_expires_at": expiresAt,
		})
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}

	s.dispatchOtp(ctx, contact, code)

	result := &IssueResult{UserExists: userExists}
	if s.exposeOtp {
		result.Code = code
	}

	return result, nil
}

// VerifyOtp checks code against the pending OTP for contact. The code is
// compared before the expiry so a wrong code is always reported as invalid.
func (s *Service) VerifyOtp(ctx context.Context, rawContact, code string) (*VerifyResult, error) {
	contact, err := ParseContact(rawContact)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, apperr.New(apperr.KindValidation, "OTP is required")
	}

	attemptKey := "otp:verify:" + contact.Value
	if err := s.allow(ctx, attemptKey); err != nil {
		return nil, err
	}

	user, err := s.store.FindUserBy(ctx, contact.Field, contact.Value)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if user.OTP == "" || user.OTP != code {
		return nil, apperr.New(apperr.KindInvalidCode, "Invalid OTP")
	}

	if user.OTPExpiresAt == nil || !user.OTPExpiresAt.After(s.now()) {
		return nil, apperr.New(apperr.KindExpired, "OTP has expired")
	}

	err = s.store.UpdateUser(ctx, user.ID, map[string]interface{}{
		"is_verified":    true,
		"otp":            "",
		"otp_expires_at": nil,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.resetAttempts(ctx, attemptKey)

	user.IsVerified = true
	user.OTP = ""
	user.OTPExpiresAt = nil

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		User:                   user.Public(),
		Token:                  token,
		IsRegistrationComplete: user.Role.IsSet(),
	}, nil
}

// Login authenticates a verified account by password.
func (s *Service) Login(ctx context.Context, rawContact, password string) (*LoginResult, error) {
	contact, err := ParseContact(rawContact)
	if err != nil {
		return nil, err
	}

	if password == "" {
		return nil, apperr.New(apperr.KindValidation, "Password is required")
	}

	user, err := s.store.FindUserBy(ctx, contact.Field, contact.Value)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if !user.IsVerified {
		return nil, apperr.New(apperr.KindAuthentication, "Account not verified")
	}

	if user.Password == "" {
		return nil, apperr.New(apperr.KindAuthentication, "Password not set")
	}

	if !auth.CheckPasswordHash(password, user.Password) {
		return nil, apperr.New(apperr.KindAuthentication, "Invalid password")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user.Public(), Token: token}, nil
}

// SetPassword sets or replaces the caller's password.
func (s *Service) SetPassword(ctx context.Context, session Session, password string) error {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return err
	}

	if !user.IsVerified {
		return apperr.New(apperr.KindAuthentication, "Account not verified")
	}

	if !ValidPassword(password) {
		return apperr.New(
			apperr.KindValidation,
			fmt.Sprintf("Password must be at least %d characters with no spaces", MinPasswordLength),
		)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperr.Internal(err)
	}

	err = s.store.UpdateUser(ctx, user.ID, map[string]interface{}{"password": hash})
	if err != nil {
		return apperr.Internal(err)
	}

	return nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (s *Service) dispatchOtp(ctx context.Context, contact Contact, code string) {
	if s.dispatcher == nil {
		return
	}

	msg := Message{To: contact.Value, Channel: ChannelSMS, Body: otpSMSBody(code)}
	if contact.IsEmail() {
		msg = Message{
			To:      contact.Value,
			Channel: ChannelEmail,
			Subject: otpEmailSubject,
			Body:    strings.ReplaceAll(otpEmailTemplate, otpCodeToken, code),
		}
	}

	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.Errorw("unable to dispatch OTP", "channel", msg.Channel, "error", err)
	}
}

func otpSMSBody(code string) string {
	return fmt.Sprintf("Your SheGuard code is %s. It expires in 10 minutes.", code)
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", errors.Wrap(err, "generate otp")
	}

	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

func setContact(user *models.User, contact Contact) {
	value := contact.Value
	if contact.IsEmail() {
		user.Email = &value
		return
	}
	user.Phone = &value
}
