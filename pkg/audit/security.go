// Package audit logs security-relevant data-access events in structured
// JSON for SIEM consumption. Repositories report rejected query input here;
// the events carry tenant and family context but never full document
// content.
package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/logging"
	"github.com/meridianhq/meridian-core/pkg/partition"
)

// SecurityEventType categorizes events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags a filter
	// value before it reaches the store.
	EventInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventIdentityValidation is logged when an identity field fails the
	// charset or shape checks.
	EventIdentityValidation SecurityEventType = "identity_validation_failure"
)

// InjectionDetails holds the specifics of a blocked injection attempt. The
// fingerprint is libinjection's pattern signature, useful for correlating
// probes across tenants.
type InjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events under a dedicated logger namespace so
// SIEM pipelines can route them without parsing application logs.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor on the process logger.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a blocked injection attempt at error level for
// immediate alerting. The offending value is truncated before logging.
func (a *SecurityAuditor) LogInjectionAttempt(tenantID string, family partition.Family, details InjectionDetails) {
	a.logger.Error("blocked query input",
		zap.Time("timestamp", time.Now().UTC()),
		zap.String("event_type", string(EventInjectionAttempt)),
		zap.String("severity", "critical"),
		zap.String("tenant_id", tenantID),
		zap.String("family", string(family)),
		zap.String("field", details.Field),
		zap.String("value", logging.TruncateContent(details.Value)),
		zap.String("fingerprint", details.Fingerprint),
	)
}

// LogIdentityValidationFailure records a rejected identity field at warn
// level. High volume is expected from buggy clients; severity stays low.
func (a *SecurityAuditor) LogIdentityValidationFailure(tenantID string, family partition.Family, detail string) {
	a.logger.Warn("rejected identity field",
		zap.Time("timestamp", time.Now().UTC()),
		zap.String("event_type", string(EventIdentityValidation)),
		zap.String("severity", "warning"),
		zap.String("tenant_id", tenantID),
		zap.String("family", string(family)),
		zap.String("detail", logging.TruncateContent(detail)),
	)
}
