package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/keystone"
)

// Namespace prefixes every exported metric name.
const Namespace = "keystone"

type CounterDef struct {
	ID   keystone.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   keystone.MetricID
	Name string
	Help string
}

var counterHelp = map[keystone.MetricID]string{
	keystone.MetricRegisterSuccess:             "Accounts created.",
	keystone.MetricRegisterConflict:            "Registrations rejected for a taken email or username.",
	keystone.MetricRegisterInvalid:             "Registrations rejected by input validation.",
	keystone.MetricRegisterRateLimited:         "Rate-limited registrations.",
	keystone.MetricEmailVerificationRequest:    "Verification tokens issued.",
	keystone.MetricEmailVerificationSuccess:    "Email addresses verified.",
	keystone.MetricEmailVerificationFailure:    "Rejected verification tokens.",
	keystone.MetricPasswordResetRequest:        "Password reset requests.",
	keystone.MetricPasswordResetConfirmSuccess: "Completed password resets.",
	keystone.MetricPasswordResetConfirmFailure: "Rejected password reset confirmations.",
	keystone.MetricPasswordChangeSuccess:       "Completed password changes.",
	keystone.MetricPasswordChangeInvalidOld:    "Password changes with a wrong current password.",
	keystone.MetricPasswordChangeReuseRejected: "Password changes rejected for reuse.",
	keystone.MetricLoginSuccess:                "Successful logins.",
	keystone.MetricLoginFailure:                "Failed logins.",
	keystone.MetricLoginRateLimited:            "Rate-limited logins.",
	keystone.MetricMFALoginRequired:            "Logins that required a second factor.",
	keystone.MetricMFALoginSuccess:             "Completed second-factor challenges.",
	keystone.MetricMFALoginFailure:             "Rejected second-factor codes.",
	keystone.MetricMFAAttemptsExceeded:         "Challenges discarded after too many wrong codes.",
	keystone.MetricBackupCodeUsed:              "Backup codes consumed.",
	keystone.MetricBackupCodesLow:              "Logins that left two or fewer backup codes.",
	keystone.MetricSessionCreated:              "Sessions created.",
	keystone.MetricRefreshSuccess:              "Refresh token rotations.",
	keystone.MetricRefreshFailure:              "Rejected refresh attempts.",
	keystone.MetricRefreshReuseDetected:        "Reused refresh tokens.",
	keystone.MetricLogout:                      "Single-session logouts.",
	keystone.MetricLogoutAll:                   "Logout-everywhere requests.",
	keystone.MetricSessionsRevoked:             "Session revocations applied.",
	keystone.MetricRevocationRetried:           "Session revocations applied on retry.",
	keystone.MetricRevocationAbandoned:         "Session revocations given up after retries.",
	keystone.MetricMFASetupRequested:           "Authenticator enrollments started.",
	keystone.MetricMFAEnabled:                  "Authenticator enrollments confirmed.",
	keystone.MetricMFADisabled:                 "Authenticators removed.",
	keystone.MetricBackupCodesGenerated:        "Backup code sets generated.",
	keystone.MetricTokensPurged:                "Expired or spent tokens deleted.",
	keystone.MetricValidateSuccess:             "Access tokens accepted.",
	keystone.MetricValidateFailure:             "Access tokens rejected.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = buildCounterDefs()

var HistogramDefs = []HistogramDef{
	{ID: keystone.MetricValidateLatency, Name: Namespace + "_validate_latency_seconds", Help: "Access token validation latency."},
}

// Dropped-event counters read from the engine rather than the snapshot.
var (
	AuditDropped = CounterDef{Name: Namespace + "_audit_dropped_total", Help: "Audit events dropped under backpressure."}

	NotificationsDropped = CounterDef{Name: Namespace + "_notifications_dropped_total", Help: "Notifications dropped under backpressure."}
)

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, keystone.MetricIDCount)
	for id := keystone.MetricID(0); int(id) < keystone.MetricIDCount; id++ {
		if id == keystone.MetricValidateLatency {
			continue
		}
		defs = append(defs, CounterDef{
			ID:   id,
			Name: Namespace + "_" + id.String() + "_total",
			Help: counterHelp[id],
		})
	}
	return defs
}

// BucketCount is the number of latency buckets including +Inf.
const BucketCount = len(keystone.HistogramBounds) + 1

// BoundLabels renders the bucket upper bounds as le label values.
func BoundLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range keystone.HistogramBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
