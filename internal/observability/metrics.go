// Package observability holds the service's Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astra_economy_redemptions_total",
		Help: "Coupon redemptions that committed and credited a reward.",
	})

	RedemptionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_economy_redemption_denials_total",
		Help: "Coupon redemption attempts denied, by reason code.",
	}, []string{"reason"})

	AfkClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astra_economy_afk_claims_total",
		Help: "AFK coin claims that committed.",
	})

	AfkClaimDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_economy_afk_claim_denials_total",
		Help: "AFK coin claims rejected, by reason code.",
	}, []string{"reason"})

	FlaggedUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astra_economy_flagged_users_total",
		Help: "Accounts flagged by the IP-abuse checks (counted per flag write).",
	})

	LedgerBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astra_economy_ledger_busy_total",
		Help: "Requests rejected because the ledger write lock wait timed out.",
	})
)
