package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"presence/internal/authz"
	"presence/internal/token"
)

// Lookup and write failure kinds surfaced by the repository.
var (
	ErrNotFound   = errors.New("identity not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Repository persists identities and reset tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const identityColumns = `id, public_id, name, email, credential_hash, role, face_vector, active, created_at, updated_at`

// CreateIdentity inserts a new identity. A duplicate email fails ErrEmailTaken.
func (r *Repository) CreateIdentity(ctx context.Context, ident Identity) (Identity, error) {
	vec, err := marshalVector(ident.FaceVector)
	if err != nil {
		return Identity{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (public_id, name, email, credential_hash, role, face_vector, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, created_at, updated_at
	`, ident.PublicID, ident.Name, ident.Email, ident.CredentialHash, string(ident.Role), vec)
	if err := row.Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Identity{}, ErrEmailTaken
		}
		return Identity{}, err
	}
	ident.Active = true
	return ident, nil
}

// GetByEmail returns the identity registered under email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE email = $1
	`, email)
	return scanIdentity(row)
}

// GetByPublicID returns the identity with the given public id.
func (r *Repository) GetByPublicID(ctx context.Context, publicID string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE public_id = $1
	`, publicID)
	return scanIdentity(row)
}

// UpdateCredentialHash installs a new credential hash on an identity.
func (r *Repository) UpdateCredentialHash(ctx context.Context, id int64, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE identities SET credential_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, hash)
	return err
}

// SetFaceVector stores an identity's enrolled feature vector.
func (r *Repository) SetFaceVector(ctx context.Context, id int64, vector []float64) error {
	vec, err := marshalVector(vector)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE identities SET face_vector = $2, updated_at = NOW() WHERE id = $1
	`, id, vec)
	return err
}

// ListWithVectors returns active identities with an enrolled vector, ordered
// by id so gallery tie-breaking is deterministic.
func (r *Repository) ListWithVectors(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE active AND face_vector IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// CreateResetToken persists a new reset token row.
func (r *Repository) CreateResetToken(ctx context.Context, t token.ResetToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reset_tokens (identity_id, value, expires_at, used)
		VALUES ($1, $2, $3, FALSE)
	`, t.IdentityID, t.Value, t.ExpiresAt)
	return err
}

// GetResetToken returns the reset token row for value.
func (r *Repository) GetResetToken(ctx context.Context, value string) (token.ResetToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, value, expires_at, used, created_at
		FROM reset_tokens WHERE value = $1
	`, value)
	var t token.ResetToken
	if err := row.Scan(&t.ID, &t.IdentityID, &t.Value, &t.ExpiresAt, &t.Used, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.ResetToken{}, token.ErrResetNotFound
		}
		return token.ResetToken{}, err
	}
	return t, nil
}

// RedeemResetToken flips used=false to true and installs the new credential
// hash in a single transaction. The conditional update guarantees that two
// concurrent redemptions of the same value can never both succeed.
func (r *Repository) RedeemResetToken(ctx context.Context, value, newHash string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var identityID int64
	row := tx.QueryRowContext(ctx, `
		UPDATE reset_tokens SET used = TRUE
		WHERE value = $1 AND used = FALSE
		RETURNING identity_id
	`, value)
	if err := row.Scan(&identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE identities SET credential_hash = $2, updated_at = NOW() WHERE id = $1
	`, identityID, newHash); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (Identity, error) {
	var (
		ident Identity
		role  string
		vec   []byte
	)
	err := row.Scan(&ident.ID, &ident.PublicID, &ident.Name, &ident.Email,
		&ident.CredentialHash, &role, &vec, &ident.Active, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	ident.Role = authz.Role(role)
	if len(vec) > 0 {
		if err := json.Unmarshal(vec, &ident.FaceVector); err != nil {
			return Identity{}, fmt.Errorf("decode face vector: %w", err)
		}
	}
	return ident, nil
}

func marshalVector(vector []float64) (any, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	vec, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("encode face vector: %w", err)
	}
	return vec, nil
}
