package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"result"})

	mfaVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_mfa_verify_total",
		Help: "MFA code verifications by outcome.",
	}, []string{"result"})

	codesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_codes_sent_total",
		Help: "MFA codes dispatched, by trigger.",
	}, []string{"kind"})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_session_validations_total",
		Help: "Session validation checks by result.",
	}, []string{"valid"})
)

func IncLogin(result string)  { logins.WithLabelValues(result).Inc() }
func IncVerify(result string) { mfaVerifications.WithLabelValues(result).Inc() }
func IncCodeSent(kind string) { codesSent.WithLabelValues(kind).Inc() }

func IncValidation(valid bool) {
	if valid {
		validations.WithLabelValues("true").Inc()
		return
	}
	validations.WithLabelValues("false").Inc()
}
