package core

// Role is one of the two deployable units of an instance.
type Role string

const (
	// RoleServer is the authorization-server role.
	RoleServer Role = "server"
	// RoleClient is the relying-party role.
	RoleClient Role = "client"
)

// Roles returns every component role in deployment order.
func Roles() []Role {
	return []Role{RoleServer, RoleClient}
}

// Hyphenated returns the service-style identifier, e.g. "server-07".
func (r Role) Hyphenated(t Tag) string {
	return string(r) + "-" + string(t)
}

// Compact returns the database-style identifier, e.g. "server07".
func (r Role) Compact(t Tag) string {
	return string(r) + string(t)
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}
