package store

import (
	"context"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/starford/contactlink/internal/checksum"
	"github.com/starford/contactlink/internal/models"
	"github.com/starford/contactlink/internal/tracing"
)

const contactsTable = "contacts"

var contactColumns = []string{
	"id", "email", "phone_number", "linked_id", "link_precedence",
	"created_at", "updated_at", "deleted_at",
}

// Tx is the data-store interface the consolidation engine works through.
// All methods run inside the enclosing transaction.
type Tx interface {
	// FindByEmailOrPhone returns contacts whose email equals email or whose
	// phone number equals phone, ignoring nil arguments, oldest first.
	FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.Contact, error)
	// FindByClusterPrimary returns the contact primaryID and every contact
	// whose linked_id is primaryID, oldest first.
	FindByClusterPrimary(ctx context.Context, primaryID int64) ([]models.Contact, error)
	// CreateContact inserts a contact with a fresh id and created_at.
	CreateContact(ctx context.Context, email, phone *string, prec models.LinkPrecedence, linkedID *int64) (*models.Contact, error)
	// UpdateLinkage sets link_precedence, linked_id and updated_at on one contact.
	UpdateLinkage(ctx context.Context, id int64, prec models.LinkPrecedence, linkedID *int64) error
	// RelinkSecondaries points every contact linked to oldPrimaryID at newPrimaryID.
	RelinkSecondaries(ctx context.Context, oldPrimaryID, newPrimaryID int64) error
}

// TxFunc is a unit of work run by WithinTx.
type TxFunc func(ctx context.Context, tx Tx) error

// contactRow represents a row in the contacts table.
type contactRow struct {
	ID             int64      `db:"id"`
	Email          *string    `db:"email"`
	PhoneNumber    *string    `db:"phone_number"`
	LinkedID       *int64     `db:"linked_id"`
	LinkPrecedence string     `db:"link_precedence"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

func (r contactRow) toModel() models.Contact {
	return models.Contact{
		ID:             r.ID,
		Email:          r.Email,
		PhoneNumber:    r.PhoneNumber,
		LinkedID:       r.LinkedID,
		LinkPrecedence: models.LinkPrecedence(r.LinkPrecedence),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		DeletedAt:      r.DeletedAt,
	}
}

type sqlTx struct {
	tx     *sqlx.Tx
	flavor sqlbuilder.Flavor
	now    func() time.Time
}

var _ Tx = (*sqlTx)(nil)

func (t *sqlTx) timestamp() time.Time {
	return t.now().UTC().Truncate(time.Microsecond)
}

func (t *sqlTx) selectContacts(ctx context.Context, op string, sb *sqlbuilder.SelectBuilder) ([]models.Contact, error) {
	sb.OrderBy("created_at", "id").Asc()
	query, args := sb.Build()

	var rows []contactRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(op, err)
	}
	out := make([]models.Contact, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (t *sqlTx) FindByEmailOrPhone(ctx context.Context, email, phone *string) (out []models.Contact, err error) {
	ctx, span := tracing.StartSpan(ctx, "store.FindByEmailOrPhone")
	defer func() { tracing.End(span, err) }()

	sb := t.flavor.NewSelectBuilder()
	sb.Select(contactColumns...).From(contactsTable)

	var conds []string
	if email != nil {
		conds = append(conds, sb.Equal("email", *email))
	}
	if phone != nil {
		conds = append(conds, sb.Equal("phone_number", *phone))
	}
	if len(conds) == 0 {
		return nil, nil
	}
	sb.Where(sb.Or(conds...))
	return t.selectContacts(ctx, "find by email or phone", sb)
}

func (t *sqlTx) FindByClusterPrimary(ctx context.Context, primaryID int64) (out []models.Contact, err error) {
	ctx, span := tracing.StartSpan(ctx, "store.FindByClusterPrimary")
	defer func() { tracing.End(span, err) }()

	sb := t.flavor.NewSelectBuilder()
	sb.Select(contactColumns...).From(contactsTable)
	sb.Where(sb.Or(sb.Equal("id", primaryID), sb.Equal("linked_id", primaryID)))
	return t.selectContacts(ctx, "find by cluster primary", sb)
}

func (t *sqlTx) CreateContact(ctx context.Context, email, phone *string, prec models.LinkPrecedence, linkedID *int64) (_ *models.Contact, err error) {
	ctx, span := tracing.StartSpan(ctx, "store.CreateContact")
	defer func() { tracing.End(span, err) }()

	now := t.timestamp()
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto(contactsTable)
	ib.Cols("email", "phone_number", "pair_key", "linked_id", "link_precedence", "created_at", "updated_at")
	ib.Values(email, phone, checksum.PairKey(email, phone), linkedID, string(prec), now, now)
	query, args := ib.Build()

	var id int64
	if err := t.tx.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return nil, classify("create contact", err)
	}
	return &models.Contact{
		ID:             id,
		Email:          email,
		PhoneNumber:    phone,
		LinkedID:       linkedID,
		LinkPrecedence: prec,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (t *sqlTx) UpdateLinkage(ctx context.Context, id int64, prec models.LinkPrecedence, linkedID *int64) (err error) {
	ctx, span := tracing.StartSpan(ctx, "store.UpdateLinkage")
	defer func() { tracing.End(span, err) }()

	ub := t.flavor.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("link_precedence", string(prec)),
		ub.Assign("linked_id", linkedID),
		ub.Assign("updated_at", t.timestamp()),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classify("update linkage", err)
	}
	return nil
}

func (t *sqlTx) RelinkSecondaries(ctx context.Context, oldPrimaryID, newPrimaryID int64) (err error) {
	ctx, span := tracing.StartSpan(ctx, "store.RelinkSecondaries")
	defer func() { tracing.End(span, err) }()

	ub := t.flavor.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("linked_id", newPrimaryID),
		ub.Assign("updated_at", t.timestamp()),
	)
	ub.Where(ub.Equal("linked_id", oldPrimaryID))
	query, args := ub.Build()

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classify("relink secondaries", err)
	}
	return nil
}
