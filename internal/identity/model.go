package identity

import (
	"time"

	"presence/internal/authz"
)

// Identity is a registered person known to the system. The credential hash
// mutates only via password change/reset; identities are never deleted here.
type Identity struct {
	ID             int64
	PublicID       string
	Name           string
	Email          string
	CredentialHash string
	Role           authz.Role
	FaceVector     []float64
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasVector reports whether the identity has an enrolled feature vector.
func (i Identity) HasVector() bool {
	return len(i.FaceVector) > 0
}
