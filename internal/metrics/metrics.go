package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision outcomes recorded against DecisionsTotal.
const (
	OutcomeAccepted      = "accepted"
	OutcomeNoFace        = "no_face"
	OutcomeLowConfidence = "low_confidence"
	OutcomeError         = "error"
)

var (
	// DecisionsTotal counts attendance decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_decisions_total",
		Help: "Attendance decisions by outcome.",
	}, []string{"outcome"})

	// TokensIssuedTotal counts issued tokens by kind.
	TokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_tokens_issued_total",
		Help: "Issued tokens by kind.",
	}, []string{"kind"})

	// GalleryReloadsTotal counts gallery snapshot reloads.
	GalleryReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_gallery_reloads_total",
		Help: "Gallery snapshot reloads.",
	})
)
