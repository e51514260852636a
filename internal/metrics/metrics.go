package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MarkDecisions counts marking attempts by outcome: accepted,
// malformed_code, code_expired, wrong_date, already_marked,
// suspicious_device, error.
var MarkDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classmark_mark_decisions_total",
	Help: "Marking attempts by decision outcome.",
}, []string{"outcome"})

// PersistenceDegraded counts writes and reads that fell back to the
// local cache.
var PersistenceDegraded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classmark_persistence_degraded_total",
	Help: "Operations that fell back to the local cache.",
})

// CodesIssued counts class codes issued by teachers.
var CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classmark_codes_issued_total",
	Help: "Class codes issued.",
})
