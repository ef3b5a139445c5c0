package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pi-merchant/backend/internal/models"
)

const invoiceColumns = `id, invoice_id, merchant_id, amount_pi::text, description, status, created_at, updated_at`

// DBTX is the part of pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

type InvoiceRepo struct {
	db DBTX
}

func NewInvoiceRepo(db DBTX) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

func (r *InvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	if inv.Status == "" {
		inv.Status = models.InvoiceStatusPending
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO invoices (invoice_id, merchant_id, amount_pi, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, inv.InvoiceID, inv.MerchantID, inv.AmountPi, inv.Description, inv.Status).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
}

// GetByID looks an invoice up by its public invoice_id.
func (r *InvoiceRepo) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_id = $1`, invoiceID)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateStatus moves an invoice from one status to another. It only writes
// when the row still holds from, so concurrent writers cannot undo each other.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, invoiceID, from, to string, updatedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET status = $1, updated_at = $2
		WHERE invoice_id = $3 AND status = $4
	`, to, updatedAt, invoiceID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE invoice_id = $1)`, invoiceID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return models.ErrInvoiceNotFound
	}
	return models.ErrInvoiceStatusConflict
}

func (r *InvoiceRepo) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]models.Invoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListStalePending returns pending invoices created before cutoff, oldest first.
func (r *InvoiceRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, models.InvoiceStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceID, &inv.MerchantID, &inv.AmountPi, &inv.Description,
		&inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
