package identity

import (
	"context"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/models"
	"github.com/Daskott/sheguard/server/proximity"
	"github.com/pkg/errors"
)

// VolunteerView is the volunteer dashboard projection of an account.
type VolunteerView struct {
	models.PublicUser
	Phone2  string                  `json:"phone2,omitempty"`
	Details models.VolunteerDetails `json:"volunteerDetails"`
}

func (s *Service) UpdateVolunteerStatus(ctx context.Context, session Session, rawStatus string) (models.VolunteerStatus, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return "", err
	}

	if err := s.requireRole(user, models.RoleVolunteer); err != nil {
		return "", err
	}

	status, ok := models.ParseVolunteerStatus(rawStatus)
	if !ok {
		return "", apperr.New(apperr.KindValidation, "Status must be one of online, busy or offline")
	}

	err = s.store.UpdateUser(ctx, user.ID, map[string]interface{}{"volunteer_status": status})
	if err != nil {
		return "", apperr.Internal(err)
	}

	return status, nil
}

func (s *Service) UpdateVolunteerLocation(ctx context.Context, session Session, location proximity.Point) (*proximity.Point, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(user, models.RoleVolunteer); err != nil {
		return nil, err
	}

	if !location.Valid() {
		return nil, apperr.New(apperr.KindValidation, "Latitude and longitude must be valid coordinates")
	}

	err = s.store.UpdateUser(ctx, user.ID, map[string]interface{}{
		"lat": location.Lat,
		"lng": location.Lng,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &location, nil
}

// VolunteerProfile returns the caller's volunteer dashboard data. A
// volunteer without a stored location is shown at FallbackLocation.
func (s *Service) VolunteerProfile(ctx context.Context, session Session) (*VolunteerView, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(user, models.RoleVolunteer); err != nil {
		return nil, err
	}

	return volunteerView(user), nil
}

// HelpRequests lists victims near an admin-verified volunteer.
func (s *Service) HelpRequests(ctx context.Context, session Session, radiusKm float64, limit int) ([]proximity.Candidate, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(user, models.RoleVolunteer); err != nil {
		return nil, err
	}

	if !user.Volunteer.VerifiedByAdmin {
		return nil, apperr.New(apperr.KindAuthorization, "Volunteer account pending verification")
	}

	return s.nearby(ctx, user, proximity.Query{
		RadiusKm: radiusKm,
		Limit:    limit,
		Role:     string(models.RoleVictim),
	})
}

// NearbyVolunteers lists volunteers near a victim. With onlineOnly set only
// volunteers currently online are returned.
func (s *Service) NearbyVolunteers(ctx context.Context, session Session, radiusKm float64, limit int, onlineOnly bool) ([]proximity.Candidate, error) {
	user, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(user, models.RoleVictim, models.RoleAdmin); err != nil {
		return nil, err
	}

	query := proximity.Query{
		RadiusKm: radiusKm,
		Limit:    limit,
		Role:     string(models.RoleVolunteer),
	}
	if onlineOnly {
		query.Filter = func(c proximity.Candidate) bool {
			return c.Status == string(models.StatusOnline)
		}
	}

	return s.nearby(ctx, user, query)
}

// VerifyVolunteer lets an admin set a volunteer's verified flag.
func (s *Service) VerifyVolunteer(ctx context.Context, session Session, volunteerID string, verified bool) (*VolunteerView, error) {
	admin, err := s.sessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(admin, models.RoleAdmin); err != nil {
		return nil, err
	}

	volunteer, err := s.store.FindUserBy(ctx, "id", volunteerID)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Volunteer not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if volunteer.Role != models.RoleVolunteer {
		return nil, apperr.New(apperr.KindValidation, "User is not a volunteer")
	}

	err = s.store.UpdateUser(ctx, volunteer.ID, map[string]interface{}{
		"volunteer_verified_by_admin": verified,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	volunteer.Volunteer.VerifiedByAdmin = verified
	s.logger.Infow("volunteer verification updated", "volunteer", volunteer.ID, "admin", admin.ID, "verified", verified)

	return volunteerView(volunteer), nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (s *Service) nearby(ctx context.Context, user *models.User, query proximity.Query) ([]proximity.Candidate, error) {
	center, ok := user.Location()
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "Location not set")
	}
	query.Center = center

	candidates, err := s.matcher.Nearby(ctx, query)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return candidates, nil
}

// requireRole checks the role stored on the record, not the one in the
// session token, so onboarding changes take effect immediately. The admin
// role also requires the account to be on the configured admin list.
func (s *Service) requireRole(user *models.User, allowed ...models.Role) error {
	switch user.Role {
	case models.RoleVictim, models.RoleVolunteer, models.RoleAdmin:
		for _, role := range allowed {
			if user.Role != role {
				continue
			}
			if role == models.RoleAdmin && !s.isAdmin(user) {
				return apperr.New(apperr.KindAuthorization, "Admin access not granted")
			}
			return nil
		}
		return apperr.New(apperr.KindAuthorization, "Not allowed for role "+string(user.Role))
	case models.RoleUnset:
		return apperr.New(apperr.KindAuthorization, "Complete your profile first")
	default:
		return apperr.New(apperr.KindAuthorization, "Unknown role")
	}
}

func volunteerView(user *models.User) *VolunteerView {
	view := &VolunteerView{
		PublicUser: user.Public(),
		Phone2:     user.Phone2,
		Details:    user.Volunteer,
	}

	if view.PublicUser.Location == nil {
		fallback := FallbackLocation
		view.PublicUser.Location = &fallback
	}

	return view
}
