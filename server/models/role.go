package models

// Role is the closed set of account roles. The zero value means the
// account has not completed onboarding yet.
type Role string

const (
	RoleUnset     Role = ""
	RoleVictim    Role = "victim"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// ParseRole accepts only the roles a user can pick during onboarding.
func ParseRole(name string) (Role, bool) {
	switch Role(name) {
	case RoleVictim:
		return RoleVictim, true
	case RoleVolunteer:
		return RoleVolunteer, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return RoleUnset, false
	}
}

func (r Role) IsSet() bool {
	return r != RoleUnset
}

// VolunteerStatus is a volunteer's live availability.
type VolunteerStatus string

const (
	StatusOnline  VolunteerStatus = "online"
	StatusBusy    VolunteerStatus = "busy"
	StatusOffline VolunteerStatus = "offline"
)

func ParseVolunteerStatus(name string) (VolunteerStatus, bool) {
	switch VolunteerStatus(name) {
	case StatusOnline:
		return StatusOnline, true
	case StatusBusy:
		return StatusBusy, true
	case StatusOffline:
		return StatusOffline, true
	default:
		return "", false
	}
}
