package logging

// AuditEvent is a privileged operation: admin changes, penalties, sweeps.
type AuditEvent struct {
	Operation string // e.g. "stake_penalized", "hub_deprecated", "revenue_swept"
	Actor     string // Account that performed the action
	Target    string // Contract or account affected
	Result    string // "success" or an outcome such as "Rejected"
	Details   string // Additional context
}

// Audit logs a sensitive operation with structured fields.
// Audit events are logged at Info level with a special "audit" attribute
// to distinguish them from regular application logs.
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
