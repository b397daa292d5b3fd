package gate

import "github.com/cantierecloud/backoffice/internal/profiles"

// Visibility is the set of role-derived UI flags the dashboard binds against.
// Hiding a control is not enforcement; privileged operations are expected to
// be guarded again at the handler layer.
type Visibility struct {
	Role           profiles.Role `json:"role"`
	DisplayName    string        `json:"display_name"`
	BadgeClass     string        `json:"badge_class"`
	CanManageUsers bool          `json:"can_manage_users"`
	CanEditConfig  bool          `json:"can_edit_settings"`
	CanViewFinance bool          `json:"can_view_finance"`
	CanManageSites bool          `json:"can_manage_sites"`
}

// VisibilityFor derives the UI flags for a role. Total over the enum.
func VisibilityFor(role profiles.Role) Visibility {
	chief := role.IsChief()
	return Visibility{
		Role:           role,
		DisplayName:    role.DisplayName(),
		BadgeClass:     role.BadgeClass(),
		CanManageUsers: chief,
		CanEditConfig:  chief,
		CanViewFinance: chief || role == profiles.RoleAdministrative,
		CanManageSites: chief || role == profiles.RoleSiteSupervisor,
	}
}

// CurrentVisibility derives the flags from the active session's role.
func (g *Gate) CurrentVisibility() Visibility {
	return VisibilityFor(g.CurrentRole())
}
