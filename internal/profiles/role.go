package profiles

// Role classifies what a signed-in user may see and do in the backoffice.
type Role string

const (
	// RoleNone is the sentinel returned when no session is active.
	RoleNone Role = ""

	RoleChiefExecutive  Role = "chief-executive"
	RoleChiefTechnology Role = "chief-technology"
	RoleChiefFinancial  Role = "chief-financial"
	RoleSiteSupervisor  Role = "site-supervisor"
	RoleWorker          Role = "worker"
	RoleAdministrative  Role = "administrative"
)

// AllRoles lists every assignable role, in display order.
var AllRoles = []Role{
	RoleChiefExecutive,
	RoleChiefTechnology,
	RoleChiefFinancial,
	RoleSiteSupervisor,
	RoleWorker,
	RoleAdministrative,
}

// Valid reports whether the role is one of the assignable values.
// RoleNone is a read-side sentinel, never a stored value.
func (r Role) Valid() bool {
	switch r {
	case RoleChiefExecutive, RoleChiefTechnology, RoleChiefFinancial,
		RoleSiteSupervisor, RoleWorker, RoleAdministrative:
		return true
	default:
		return false
	}
}

// IsChief reports whether the role belongs to company leadership and unlocks
// the privileged sections of the dashboard.
func (r Role) IsChief() bool {
	switch r {
	case RoleChiefExecutive, RoleChiefTechnology, RoleChiefFinancial:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable label shown in the navbar and the
// user table. Total over the enum; unknown values fall back to the raw string.
func (r Role) DisplayName() string {
	switch r {
	case RoleChiefExecutive:
		return "Amministratore Delegato"
	case RoleChiefTechnology:
		return "Direttore Tecnico"
	case RoleChiefFinancial:
		return "Direttore Finanziario"
	case RoleSiteSupervisor:
		return "Capo Cantiere"
	case RoleWorker:
		return "Operaio"
	case RoleAdministrative:
		return "Amministrativo"
	case RoleNone:
		return "Ospite"
	default:
		return string(r)
	}
}

// BadgeClass returns the CSS badge class the dashboard attaches to the role.
func (r Role) BadgeClass() string {
	switch r {
	case RoleChiefExecutive, RoleChiefTechnology, RoleChiefFinancial:
		return "badge-chief"
	case RoleSiteSupervisor:
		return "badge-supervisor"
	case RoleAdministrative:
		return "badge-admin"
	case RoleWorker:
		return "badge-worker"
	default:
		return "badge-default"
	}
}

// ParseRole maps a stored or submitted string onto the enum.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	if role.Valid() {
		return role, true
	}
	return RoleNone, false
}
