package chaty

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStore is the persistence contract the verification workflow needs.
type AccountStore interface {
	VerificationStore
	SaveUser(ctx context.Context, user *User) (*User, error)
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
}

type Users interface {
	repository.Repository[*User]
	AccountStore

	SaveUserTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	FindUserTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	UpdateVerifiedEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	UpdateVerificationStateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, state VerificationState, verifiedAt *time.Time) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// WithUsersClock overrides the clock used for updated_at and verified_at.
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

// SaveUser inserts user. It fails with ErrUserAlreadyExists when the id is taken.
func (a *users) SaveUser(ctx context.Context, user *User) (*User, error) {
	return a.SaveUserTx(ctx, a.db, user)
}

func (a *users) SaveUserTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil || user.ID == uuid.Nil {
		return nil, withMeta(ErrPersistence, nil, map[string]any{"reason": "user id is required"})
	}

	if _, err := a.FindUserTx(ctx, tx, user.ID); err == nil {
		return nil, withMeta(ErrUserAlreadyExists, nil, map[string]any{"id": user.ID.String()})
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	prepareUserDefaults(user)
	return a.Repository.CreateTx(ctx, tx, user)
}

func (a *users) FindUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindUserTx(ctx, a.db, id)
}

func (a *users) FindUserTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

// UpdateVerifiedEmail marks the account verified. It fails when the user does not exist.
func (a *users) UpdateVerifiedEmail(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.UpdateVerifiedEmailTx(ctx, a.db, id)
}

func (a *users) UpdateVerifiedEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	now := a.now()
	return a.UpdateVerificationStateTx(ctx, tx, id, VerificationVerified, &now)
}

func (a *users) UpdateVerificationState(ctx context.Context, id uuid.UUID, state VerificationState, verifiedAt *time.Time) (*User, error) {
	return a.UpdateVerificationStateTx(ctx, a.db, id, state, verifiedAt)
}

// UpdateVerificationStateTx writes the state, and for the verified state the
// flag and timestamp, in a single statement. Rows already verified are never
// rewritten: moving one elsewhere fails with ErrTerminalState and verifying it
// again returns the stored row untouched.
func (a *users) UpdateVerificationStateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, state VerificationState, verifiedAt *time.Time) (*User, error) {
	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("verification_state = ?", state).
		Set("updated_at = ?", a.now()).
		Where("id = ?", id).
		Where("verification_state <> ?", VerificationVerified)

	if state == VerificationVerified {
		if verifiedAt == nil {
			now := a.now()
			verifiedAt = &now
		}
		q = q.Set("is_email_verified = ?", true).
			Set("verified_at = ?", *verifiedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil || rows > 0 {
		return a.FindUserTx(ctx, tx, id)
	}

	current, err := a.FindUserTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if state == VerificationVerified {
		return current, nil
	}

	return nil, withMeta(ErrTerminalState, nil, map[string]any{
		"id":   id.String(),
		"from": current.VerificationState,
		"to":   state,
	})
}

func prepareUserDefaults(user *User) {
	if user == nil {
		return
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		user.Username = user.Email
	}
	if user.VerificationState == "" {
		user.VerificationState = VerificationSignedUp
	}
	if user.EmailVerified {
		user.VerificationState = VerificationVerified
	}
}
