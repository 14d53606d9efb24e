package logging

// Audit operations
const (
	AuditPolicyUpdated   = "policy_updated"
	AuditOperatorChanged = "operator_changed"
	AuditAdminChanged    = "admin_changed"
	AuditBondingLaunched = "bonding_launched"
	AuditFundsRetrieved  = "funds_retrieved"
)

// AuditEvent represents a privileged operation that should leave a trail
type AuditEvent struct {
	Operation string // one of the Audit* constants
	Actor     string // wallet address that performed the action
	Target    string // bonding name, operator address or policy field
	Result    string // "success" or "failure"
	Details   string
}

// Audit logs a privileged operation with structured fields.
// Audit events are logged at Info level with an "audit" attribute
// so they can be filtered out of the regular stream.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"details", event.Details,
	)
}
