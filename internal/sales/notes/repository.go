package notes

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists notes in PostgreSQL: sales_notes for the header and
// sales_note_items for the lines.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional note operations.
type TxRepository interface {
	IssueNumber(ctx context.Context, kind string, now time.Time) (string, error)
	Insert(ctx context.Context, note Note) error
	SetReturnGuide(ctx context.Context, number, guideID string) error
	Delete(ctx context.Context, number string) error
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	return sequence.Issue(ctx, r.tx, kind, now, func(ctx context.Context, prefix string) (string, error) {
		var last string
		err := r.tx.QueryRow(ctx,
			`SELECT note_number FROM sales_notes WHERE note_number LIKE $1 || '-%'
			 ORDER BY LENGTH(note_number) DESC, note_number DESC LIMIT 1`, prefix,
		).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return last, err
	})
}

func (r *txRepo) Insert(ctx context.Context, note Note) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sales_notes (
		note_number, invoice_number, customer_ruc, customer_name, note_type,
		reason, total_amount, return_guide_id, notes, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		note.NoteNumber, note.InvoiceNumber, note.CustomerRUC, note.CustomerName,
		string(note.Type), string(note.Reason), note.TotalAmount,
		nullable(note.ReturnGuideID), note.Notes, note.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range note.Items {
		_, err = r.tx.Exec(ctx, `INSERT INTO sales_note_items (
			note_number, product_sku, product_name, quantity, unit_price
		) VALUES ($1,$2,$3,$4,$5)`,
			note.NoteNumber, item.SKU, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) SetReturnGuide(ctx context.Context, number, guideID string) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales_notes SET return_guide_id = $2, updated_at = NOW()
		 WHERE note_number = $1`, number, nullable(guideID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("note", number)
	}
	return nil
}

func (r *txRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_note_items WHERE note_number = $1`, number); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales_notes WHERE note_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("note", number)
	}
	return nil
}

const selectNote = `SELECT note_number, invoice_number, customer_ruc,
	customer_name, note_type, reason, total_amount,
	COALESCE(return_guide_id, ''), notes, created_at, updated_at
	FROM sales_notes`

// Get loads one note with its items.
func (r *Repository) Get(ctx context.Context, number string) (Note, error) {
	note, err := scanNote(r.pool.QueryRow(ctx,
		selectNote+` WHERE note_number = $1`, number), number)
	if err != nil {
		return Note{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT product_sku, product_name, quantity, unit_price
		 FROM sales_note_items WHERE note_number = $1 ORDER BY id`, number)
	if err != nil {
		return Note{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item doc.DocumentItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return Note{}, err
		}
		note.Items = append(note.Items, item)
	}
	return note, rows.Err()
}

// List returns a page of notes, newest first, without items.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Note, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (note_number ILIKE $` + n + ` OR invoice_number ILIKE $` + n + ` OR customer_name ILIKE $` + n + `)`
	}
	if filters.Type != "" {
		args = append(args, filters.Type)
		where += ` AND note_type = $` + strconv.Itoa(len(args))
	}
	if filters.InvoiceNumber != "" {
		args = append(args, filters.InvoiceNumber)
		where += ` AND invoice_number = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_notes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filters.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := selectNote + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Note
	for rows.Next() {
		note, err := scanNote(rows, "")
		if err != nil {
			return nil, 0, err
		}
		result = append(result, note)
	}
	return result, total, rows.Err()
}

func scanNote(row pgx.Row, number string) (Note, error) {
	var (
		note     Note
		noteType string
		reason   string
	)
	err := row.Scan(&note.NoteNumber, &note.InvoiceNumber, &note.CustomerRUC,
		&note.CustomerName, &noteType, &reason, &note.TotalAmount,
		&note.ReturnGuideID, &note.Notes, &note.CreatedAt, &note.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, shared.NotFound("note", number)
	}
	if err != nil {
		return Note{}, err
	}
	note.Type = NoteType(noteType)
	note.Reason = NoteReason(reason)
	return note, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
