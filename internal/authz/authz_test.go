package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"student", "teacher", "admin"} {
		role, err := ParseRole(raw)
		require.NoError(t, err)
		assert.Equal(t, Role(raw), role)
	}

	_, err := ParseRole("superuser")
	assert.Error(t, err)
}

func TestRequires(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		allowed []Role
		wantErr error
	}{
		{name: "empty set allows any authenticated role", role: RoleStudent, allowed: nil},
		{name: "exact match", role: RoleTeacher, allowed: []Role{RoleTeacher}},
		{name: "admin passes teacher gate", role: RoleAdmin, allowed: []Role{RoleTeacher}},
		{name: "admin passes student gate", role: RoleAdmin, allowed: []Role{RoleStudent}},
		{name: "student rejected by teacher gate", role: RoleStudent, allowed: []Role{RoleTeacher}, wantErr: ErrForbidden},
		{name: "teacher rejected by student gate", role: RoleTeacher, allowed: []Role{RoleStudent}, wantErr: ErrForbidden},
		{name: "membership in multi-role gate", role: RoleStudent, allowed: []Role{RoleTeacher, RoleStudent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Requires(tt.role, tt.allowed...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
