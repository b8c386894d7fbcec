package attendance

import "time"

// Event statuses and methods.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"

	MethodFacialRecognition = "facial_recognition"
)

// Event is a recorded attendance event. Once inserted it is immutable;
// correction flows (appeals) live outside this core.
type Event struct {
	ID         string
	IdentityID int64
	When       time.Time
	Method     string
	Confidence *float64
	Status     string
	Location   string
	ImageURL   string
	CreatedAt  time.Time
}
