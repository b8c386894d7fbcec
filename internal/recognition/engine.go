package recognition

import (
	"context"
	"errors"
	"time"

	"presence/internal/attendance"
)

// Decision failure kinds. Both are user-actionable (retake the photo) and
// safe to surface with the specific reason.
var (
	ErrNoFaceDetected = errors.New("no face detected")
	ErrLowConfidence  = errors.New("low confidence recognition")
)

// Extractor turns raw image bytes into zero or more probe vectors.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]Vector, error)
}

// EventWriter persists accepted attendance events.
type EventWriter interface {
	InsertEvent(ctx context.Context, evt attendance.Event) (attendance.Event, error)
}

// Engine applies the confidence policy to matcher output and records
// attendance events. There is no duplicate-suppression window: repeated
// recognitions of the same identity each produce a new event.
type Engine struct {
	extractor Extractor
	gallery   *Gallery
	events    EventWriter
	threshold float64
	now       func() time.Time
}

// NewEngine creates a decision engine with confidence threshold θ.
func NewEngine(extractor Extractor, gallery *Gallery, events EventWriter, threshold float64) *Engine {
	return &Engine{
		extractor: extractor,
		gallery:   gallery,
		events:    events,
		threshold: threshold,
		now:       time.Now,
	}
}

// Decide extracts probe vectors from image, picks the globally best match
// across all probes, applies the threshold (inclusive), and persists an
// accepted event. Vector comparison runs against an in-memory snapshot, not
// inside an open persistence transaction.
func (e *Engine) Decide(ctx context.Context, image []byte, location, imageURL string) (attendance.Event, error) {
	probes, err := e.extractor.Extract(ctx, image)
	if err != nil {
		return attendance.Event{}, err
	}
	if len(probes) == 0 {
		return attendance.Event{}, ErrNoFaceDetected
	}

	gallery, err := e.gallery.Entries(ctx)
	if err != nil {
		return attendance.Event{}, err
	}

	var (
		best    Match
		matched bool
	)
	for _, probe := range probes {
		m, ok := BestMatch(probe, gallery)
		if !ok {
			continue
		}
		if !matched || m.Confidence > best.Confidence {
			best = m
			matched = true
		}
	}
	if !matched {
		return attendance.Event{}, ErrNoFaceDetected
	}
	if best.Confidence < e.threshold {
		return attendance.Event{}, ErrLowConfidence
	}

	confidence := best.Confidence
	evt := attendance.Event{
		IdentityID: best.IdentityID,
		When:       e.now().UTC(),
		Method:     attendance.MethodFacialRecognition,
		Confidence: &confidence,
		Status:     attendance.StatusPresent,
		Location:   location,
		ImageURL:   imageURL,
	}
	return e.events.InsertEvent(ctx, evt)
}
