package audit

import "time"

// Action names the state change being recorded
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLogout         Action = "logout"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionStatusChange   Action = "status_change"
	ActionDownload       Action = "download"
	ActionQRScan         Action = "qr_scan"
	ActionSetPermissions Action = "set_permissions"
	ActionAssignRole     Action = "assign_role"
	ActionRevokeRole     Action = "revoke_role"
	ActionGrantAccess    Action = "grant_access"
	ActionRevokeAccess   Action = "revoke_access"
	ActionSetServices    Action = "set_services"
)

// Resource names the kind of entity an entry refers to
type Resource string

const (
	ResourceSession    Resource = "session"
	ResourceUser       Resource = "user"
	ResourceRole       Resource = "role"
	ResourcePermission Resource = "permission"
	ResourceDocument   Resource = "document"
	ResourceObject     Resource = "object"
	ResourceUmg        Resource = "umg"
	ResourceService    Resource = "service"
	ResourceDepartment Resource = "department"
)

// Entry is one immutable audit row. Entries are only ever inserted.
type Entry struct {
	ID         int64                  `json:"id"`
	UserID     *int64                 `json:"user_id,omitempty"`
	Action     Action                 `json:"action"`
	Resource   Resource               `json:"resource"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Success    bool                   `json:"success"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
}

// SearchFilter narrows the audit viewer listing
type SearchFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	UserID     *int64
	Actions    []Action
	Resource   Resource
	ResourceID string
	Success    *bool

	Limit  int
	Offset int
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

func (f SearchFilter) normalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return defaultSearchLimit
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}
