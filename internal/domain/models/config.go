package models

// Permission names a capability checked against the authorization service.
type Permission string

// PermissionTreasuryManager gates policy changes and lets a caller act for the treasury holder.
const PermissionTreasuryManager Permission = "TREASURY_MANAGER"

// Config is the persisted manager configuration.
type Config struct {
	AdminAuth Contract `json:"admin_auth"`
	Treasury  string   `json:"treasury"`
}
