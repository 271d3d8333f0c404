package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/models"
	"github.com/Daskott/sheguard/server/proximity"
	"github.com/pkg/errors"
)

// FallbackLocation is used when onboarding does not supply usable
// coordinates.
var FallbackLocation = proximity.Point{Lat: 23.8103, Lng: 90.4125}

var conflictMessages = map[string]string{
	"email": "Email already in use",
	"phone": "Phone number already in use",
}

// Upload is an image submitted with a profile.
type Upload struct {
	Filename string
	Data     []byte
}

func (u *Upload) present() bool {
	return u != nil && len(u.Data) > 0
}

type ProfileInput struct {
	Role   string
	Name   string
	Gender string

	// Optional contact updates.
	Email string
	Phone string

	// Lat and Lng are raw form values; anything that is not a usable
	// coordinate pair falls back to FallbackLocation.
	Lat string
	Lng string

	ProfilePhoto *Upload

	// Volunteer only.
	Phone2    string
	NidNumber string
	NidPhoto  *Upload
	Skills    []string
}

type ProfileResult struct {
	User  models.PublicUser `json:"user"`
	Token string            `json:"-"`
}

// CompleteProfile provisions the caller with a role and profile. Everything
// is validated before any image is uploaded, and nothing is persisted unless
// every upload succeeded.
func (s *Service) CompleteProfile(ctx context.Context, session Session, in ProfileInput) (*ProfileResult, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	role, ok := models.ParseRole(strings.TrimSpace(in.Role))
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "Invalid role")
	}

	if role == models.RoleAdmin && !s.isAdmin(user) {
		return nil, apperr.New(apperr.KindAuthorization, "Admin role is not available for this account")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "Name is required")
	}

	nidNumber := strings.TrimSpace(in.NidNumber)
	if role == models.RoleVolunteer {
		if nidNumber == "" {
			return nil, apperr.New(apperr.KindValidation, "National ID number is required for volunteers")
		}
		if !in.NidPhoto.present() {
			return nil, apperr.New(apperr.KindValidation, "National ID photo is required for volunteers")
		}
	}

	email, phone, err := s.contactUpdates(ctx, user, in)
	if err != nil {
		return nil, err
	}

	var profilePhotoURL, nidImageURL string
	if in.ProfilePhoto.present() {
		profilePhotoURL, err = s.upload(ctx, in.ProfilePhoto)
		if err != nil {
			return nil, err
		}
	}
	if role == models.RoleVolunteer {
		nidImageURL, err = s.upload(ctx, in.NidPhoto)
		if err != nil {
			return nil, err
		}
	}

	previousRole := user.Role
	user.Role = role
	user.Name = name
	user.Gender = strings.TrimSpace(in.Gender)
	user.SetLocation(parseLocation(in.Lat, in.Lng))

	if email != "" {
		user.Email = &email
	}
	if phone != "" {
		user.Phone = &phone
	}
	if profilePhotoURL != "" {
		user.ProfilePhotoURL = profilePhotoURL
	}

	if role == models.RoleVolunteer {
		details := models.VolunteerDetails{Status: models.StatusOffline}
		if previousRole == models.RoleVolunteer {
			details = user.Volunteer
		}

		details.NidNumber = nidNumber
		details.NidImageURL = nidImageURL
		details.Skills = cleanSkills(in.Skills)
		if details.Status == "" {
			details.Status = models.StatusOffline
		}

		user.Phone2 = strings.TrimSpace(in.Phone2)
		user.Volunteer = details
	} else {
		user.Phone2 = ""
		user.Volunteer = models.VolunteerDetails{}
	}

	err = s.store.SaveUser(ctx, user)
	if errors.Is(err, models.ErrDuplicateContact) {
		return nil, apperr.Wrap(apperr.KindConflict, "Contact already in use", err)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	return &ProfileResult{User: user.Public(), Token: token}, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// contactUpdates validates optional email/phone changes and makes sure they
// do not belong to another account.
func (s *Service) contactUpdates(ctx context.Context, user *models.User, in ProfileInput) (string, string, error) {
	var email, phone string
	var err error

	if strings.TrimSpace(in.Email) != "" {
		if email, err = parseEmail(in.Email); err != nil {
			return "", "", err
		}
		if err = s.ensureContactFree(ctx, user, "email", email); err != nil {
			return "", "", err
		}
	}

	if strings.TrimSpace(in.Phone) != "" {
		if phone, err = parsePhone(in.Phone); err != nil {
			return "", "", err
		}
		if err = s.ensureContactFree(ctx, user, "phone", phone); err != nil {
			return "", "", err
		}
	}

	return email, phone, nil
}

func (s *Service) ensureContactFree(ctx context.Context, user *models.User, field, value string) error {
	taken, err := s.store.ContactTaken(ctx, field, value, user.ID)
	if err != nil {
		return apperr.Internal(err)
	}

	if taken {
		return apperr.New(apperr.KindConflict, conflictMessages[field])
	}
	return nil
}

func (s *Service) upload(ctx context.Context, upload *Upload) (string, error) {
	if s.uploader == nil {
		return "", apperr.Internal(errors.New("no image uploader configured"))
	}

	url, err := s.uploader.UploadImage(ctx, upload.Data, upload.Filename)
	if err != nil {
		return "", apperr.Internal(errors.Wrapf(err, "upload %q", upload.Filename))
	}
	return url, nil
}

func parseLocation(rawLat, rawLng string) proximity.Point {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(rawLat), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(rawLng), 64)
	if latErr != nil || lngErr != nil {
		return FallbackLocation
	}

	point := proximity.Point{Lat: lat, Lng: lng}
	if !point.Valid() {
		return FallbackLocation
	}
	return point
}

func cleanSkills(skills []string) models.StringList {
	cleaned := models.StringList{}
	seen := map[string]bool{}

	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" || seen[skill] {
			continue
		}
		seen[skill] = true
		cleaned = append(cleaned, skill)
	}

	return cleaned
}
