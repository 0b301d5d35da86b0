package chaty

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ContactStore lists the people a user can chat with.
type ContactStore interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*Contact, error)
}

type Contacts interface {
	repository.Repository[*Contact]
	ContactStore

	ListByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Contact, error)
	AddContact(ctx context.Context, userID, friendID uuid.UUID, name string) (*Contact, error)
	AddContactTx(ctx context.Context, tx bun.IDB, userID, friendID uuid.UUID, name string) (*Contact, error)
}

type contacts struct {
	repository.Repository[*Contact]
	db *bun.DB
}

var _ Contacts = (*contacts)(nil)

func NewContactsRepository(db *bun.DB) Contacts {
	repo := repository.NewRepository[*Contact](db, repository.ModelHandlers[*Contact]{
		NewRecord: func() *Contact { return &Contact{} },
		GetID: func(c *Contact) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Contact, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	})

	return &contacts{
		Repository: repo,
		db:         db,
	}
}

func (c *contacts) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*Contact, error) {
	return c.ListByUserIDTx(ctx, c.db, userID)
}

// ListByUserIDTx returns contacts ordered by name, with the friend profile loaded.
func (c *contacts) ListByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Contact, error) {
	records := []*Contact{}
	err := tx.NewSelect().
		Model(&records).
		Relation("Friend").
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.name ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (c *contacts) AddContact(ctx context.Context, userID, friendID uuid.UUID, name string) (*Contact, error) {
	return c.AddContactTx(ctx, c.db, userID, friendID, name)
}

func (c *contacts) AddContactTx(ctx context.Context, tx bun.IDB, userID, friendID uuid.UUID, name string) (*Contact, error) {
	record := &Contact{
		ID:       uuid.New(),
		UserID:   userID,
		FriendID: friendID,
		Name:     name,
	}
	return c.Repository.CreateTx(ctx, tx, record)
}
