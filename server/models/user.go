package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Daskott/sheguard/server/proximity"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrDuplicateContact is returned when an email or phone number is already
// attached to another user.
var ErrDuplicateContact = errors.New("contact already belongs to another user")

var lookupFields = map[string]bool{"id": true, "email": true, "phone": true}

type User struct {
	ID              string           `json:"_id" gorm:"primaryKey;size:36"`
	Name            string           `json:"name,omitempty"`
	Email           *string          `json:"email,omitempty" gorm:"uniqueIndex"`
	Phone           *string          `json:"phone,omitempty" gorm:"uniqueIndex"`
	Phone2          string           `json:"phone2,omitempty"`
	Password        string           `json:"-"`
	OTP             string           `json:"-" gorm:"column:otp"`
	OTPExpiresAt    *time.Time       `json:"-" gorm:"column:otp_expires_at"`
	IsVerified      bool             `json:"isVerified" gorm:"not null;default:false"`
	Role            Role             `json:"role,omitempty" gorm:"index"`
	Gender          string           `json:"gender,omitempty"`
	ProfilePhotoURL string           `json:"profilePhotoUrl,omitempty"`
	Lat             *float64         `json:"-" gorm:"index"`
	Lng             *float64         `json:"-"`
	Volunteer       VolunteerDetails `json:"-" gorm:"embedded;embeddedPrefix:volunteer_"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type VolunteerDetails struct {
	NidNumber       string          `json:"nidNumber"`
	NidImageURL     string          `json:"nidImageUrl,omitempty"`
	VerifiedByAdmin bool            `json:"verifiedByAdmin"`
	Status          VolunteerStatus `json:"status"`
	Skills          StringList      `json:"skills" gorm:"type:text"`
	Rating          float64         `json:"rating"`
	CompletedTasks  int             `json:"completedTasks"`
}

// PublicUser is the projection of a user that is safe to return to clients.
type PublicUser struct {
	ID              string           `json:"_id"`
	Name            string           `json:"name,omitempty"`
	Email           string           `json:"email,omitempty"`
	Phone           string           `json:"phone,omitempty"`
	Role            Role             `json:"role,omitempty"`
	Gender          string           `json:"gender,omitempty"`
	ProfilePhotoURL string           `json:"profilePhotoUrl,omitempty"`
	IsVerified      bool             `json:"isVerified"`
	Location        *proximity.Point `json:"location,omitempty"`
}

func (user *User) Public() PublicUser {
	public := PublicUser{
		ID:              user.ID,
		Name:            user.Name,
		Role:            user.Role,
		Gender:          user.Gender,
		ProfilePhotoURL: user.ProfilePhotoURL,
		IsVerified:      user.IsVerified,
	}

	if user.Email != nil {
		public.Email = *user.Email
	}
	if user.Phone != nil {
		public.Phone = *user.Phone
	}
	if location, ok := user.Location(); ok {
		public.Location = &location
	}

	return public
}

// Location returns the user's stored coordinates, if any.
func (user *User) Location() (proximity.Point, bool) {
	if user.Lat == nil || user.Lng == nil {
		return proximity.Point{}, false
	}
	return proximity.Point{Lat: *user.Lat, Lng: *user.Lng}, true
}

func (user *User) SetLocation(point proximity.Point) {
	lat, lng := point.Lat, point.Lng
	user.Lat = &lat
	user.Lng = &lng
}

// HasPendingOTP reports whether an unexpired OTP is waiting for verification.
func (user *User) HasPendingOTP(now time.Time) bool {
	return user.OTP != "" && user.OTPExpiresAt != nil && user.OTPExpiresAt.After(now)
}

// ---------------------------------------------------------------------------------//
// Store methods
// --------------------------------------------------------------------------------//

// FindUserBy looks a user up by exact match on id, email or phone.
func (s *Store) FindUserBy(ctx context.Context, field string, value interface{}) (*User, error) {
	if !lookupFields[field] {
		return nil, fmt.Errorf("FindUserBy: unsupported lookup field %q", field)
	}

	user := User{}
	err := s.db.WithContext(ctx).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// CreateUser inserts user, assigning an id when it has none.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	return translateError(s.db.WithContext(ctx).Create(user).Error)
}

// UpdateUser applies a field level update to the user with the given id.
func (s *Store) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(data)
	if res.Error != nil {
		return translateError(res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// SaveUser writes every column of user.
func (s *Store) SaveUser(ctx context.Context, user *User) error {
	return translateError(s.db.WithContext(ctx).Save(user).Error)
}

// ContactTaken reports whether another user (other than excludeID) already
// uses value for field.
func (s *Store) ContactTaken(ctx context.Context, field, value, excludeID string) (bool, error) {
	if field != "email" && field != "phone" {
		return false, fmt.Errorf("ContactTaken: unsupported field %q", field)
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where(fmt.Sprintf("%v = ? AND id <> ?", field), value, excludeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// CandidatesWithin returns users of role whose location lies inside box.
func (s *Store) CandidatesWithin(ctx context.Context, role string, box proximity.Box) ([]proximity.Candidate, error) {
	users := []User{}

	query := s.db.WithContext(ctx).
		Select("id", "name", "profile_photo_url", "lat", "lng", "volunteer_status").
		Where("role = ? AND lat IS NOT NULL AND lng IS NOT NULL", role).
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat)

	if !box.AllLongitudes {
		query = query.Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng)
	}

	err := query.Find(&users).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]proximity.Candidate, 0, len(users))
	for _, user := range users {
		location, _ := user.Location()
		candidates = append(candidates, proximity.Candidate{
			ID:              user.ID,
			Name:            user.Name,
			ProfilePhotoURL: user.ProfilePhotoURL,
			Location:        location,
			Status:          string(user.Volunteer.Status),
		})
	}

	return candidates, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errors.Wrap(ErrDuplicateContact, err.Error())
	}

	return err
}
