package chaty

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationState tracks where a user is in the email verification flow.
type VerificationState string

const (
	VerificationSignedUp    VerificationState = "signed_up"
	VerificationEmailQueued VerificationState = "email_queued"
	VerificationEmailSent   VerificationState = "email_sent"
	VerificationVerified    VerificationState = "verified"
	VerificationFailed      VerificationState = "failed"
)

// User mirrors the identity provider account locally. The ID is the one
// assigned by the identity provider.
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	Username          string            `bun:"username,notnull,unique" json:"username"`
	Email             string            `bun:"email,notnull,unique" json:"email"`
	FirstName         string            `bun:"first_name" json:"first_name,omitempty"`
	LastName          string            `bun:"last_name" json:"last_name,omitempty"`
	Phone             string            `bun:"phone_number" json:"phone_number,omitempty"`
	EmailVerified     bool              `bun:"is_email_verified" json:"is_email_verified"`
	VerificationState VerificationState `bun:"verification_state,notnull" json:"verification_state"`
	VerifiedAt        *time.Time        `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt         *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Contact links a user to a friend they can chat with.
type Contact struct {
	bun.BaseModel `bun:"table:contacts,alias:cnt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	FriendID      uuid.UUID  `bun:"friend_id,notnull,type:uuid" json:"friend_id"`
	Name          string     `bun:"name" json:"name"`
	Friend        *User      `bun:"rel:belongs-to,join:friend_id=id" json:"friend,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// UserFromIdentity builds the local row for a freshly created account.
func UserFromIdentity(identity *IdentityUser, params SignupParams) (*User, error) {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:                id,
		Username:          firstNonEmpty(identity.Username, params.Username),
		Email:             firstNonEmpty(identity.Email, params.Email),
		FirstName:         firstNonEmpty(identity.FirstName, params.FirstName),
		LastName:          firstNonEmpty(identity.LastName, params.LastName),
		Phone:             params.Phone,
		EmailVerified:     identity.EmailVerified,
		VerificationState: VerificationSignedUp,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
