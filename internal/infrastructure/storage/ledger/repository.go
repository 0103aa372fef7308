package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"ledgerbridge/internal/core/types"
	"ledgerbridge/internal/domain/posting"
)

// Ledger tables.
const (
	TableHeader     = "invoice_header"
	TableLine       = "invoice_line"
	TablePayment    = "invoice_payment"
	TableCounter    = "doc_counter"
	TableThirdParty = "third_party"
	TableMaterial   = "material"
)

// ErrHeaderDropped is returned when the ledger accepted a header insert without storing a row.
var ErrHeaderDropped = errors.New("header insert returned no row")

var (
	thirdPartyColumns = ExtractDBColumns[posting.ThirdParty]()
	materialColumns   = ExtractDBColumns[posting.Material]()

	metadataColumns = map[posting.MetadataField]bool{
		posting.FieldAccountingDate: true,
		posting.FieldCostCenter:     true,
		posting.FieldPostedAt:       true,
		posting.FieldObservation:    true,
	}
)

// RepositoryOptions tune ledger-specific behavior.
type RepositoryOptions struct {
	// ConsumptionTaxCode separates consumption tax from VAT in header totals.
	ConsumptionTaxCode string
	// RecalcStatement, when set, replaces the portable totals update. It takes the header id
	// as its only parameter, written as "?".
	RecalcStatement string
}

// Repository implements posting.Ledger over the supervised connection.
type Repository struct {
	sup  *Supervisor
	opts RepositoryOptions
}

var _ posting.Ledger = (*Repository)(nil)

// NewRepository creates a Repository.
func NewRepository(sup *Supervisor, opts RepositoryOptions) *Repository {
	return &Repository{sup: sup, opts: opts}
}

// FindInvoice looks a header up by natural tag.
func (r *Repository) FindInvoice(ctx context.Context, naturalTag string) (*posting.Existence, error) {
	q := r.sup.Builder().
		Select("id", "prefix", "number", "total", "tax_base", "vat", "consumption_tax").
		From(TableHeader).
		Where(sq.Eq{"natural_tag": naturalTag}).
		OrderBy("id")

	var found []posting.Existence
	if err := r.selectAll(ctx, &found, q); err != nil {
		return nil, fmt.Errorf("find invoice %s: %w", naturalTag, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	ex := found[0]
	ex.Total = types.Round(ex.Total)
	ex.TaxBase = types.Round(ex.TaxBase)
	ex.VAT = types.Round(ex.VAT)
	ex.ConsumptionTax = types.Round(ex.ConsumptionTax)
	return &ex, nil
}

// FindThirdParty looks a customer up by tax id.
func (r *Repository) FindThirdParty(ctx context.Context, taxID string) (*posting.ThirdParty, error) {
	q := r.sup.Builder().
		Select(thirdPartyColumns...).
		From(TableThirdParty).
		Where(sq.Eq{"tax_id": taxID}).
		OrderBy("id")

	var found []posting.ThirdParty
	if err := r.selectAll(ctx, &found, q); err != nil {
		return nil, fmt.Errorf("find third party: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// CreateThirdParty inserts tp and sets its ID.
func (r *Repository) CreateThirdParty(ctx context.Context, tp *posting.ThirdParty) error {
	q := r.sup.Builder().
		Insert(TableThirdParty).
		SetMap(StructToMap(tp, "id")).
		Suffix("RETURNING id")
	if err := r.insertReturning(ctx, q, &tp.ID); err != nil {
		return fmt.Errorf("create third party: %w", err)
	}
	return nil
}

// UpdateThirdPartyEmail replaces a customer's email.
func (r *Repository) UpdateThirdPartyEmail(ctx context.Context, id int64, email string) error {
	q := r.sup.Builder().
		Update(TableThirdParty).
		Set("email", email).
		Where(sq.Eq{"id": id})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("update third party email: %w", err)
	}
	return nil
}

// InsertHeader writes a header row and sets h.ID.
func (r *Repository) InsertHeader(ctx context.Context, h *posting.Header) error {
	q := r.sup.Builder().
		Insert(TableHeader).
		Columns("document_type", "prefix", "number", "natural_tag", "third_party_id", "issued_at").
		Values(h.DocumentType, h.Prefix, h.Number, h.NaturalTag, h.ThirdPartyID, h.IssuedAt.UTC()).
		Suffix("RETURNING id")
	if err := r.insertReturning(ctx, q, &h.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrHeaderDropped
		}
		return fmt.Errorf("insert header %s-%d: %w", h.Prefix, h.Number, err)
	}
	return nil
}

// FindHeader returns the header holding number, if visible.
func (r *Repository) FindHeader(ctx context.Context, docType, prefix string, number int64) (*posting.HeaderRef, error) {
	q := r.sup.Builder().
		Select("id", "natural_tag").
		From(TableHeader).
		Where(sq.Eq{"document_type": docType, "prefix": prefix, "number": number})

	var found []posting.HeaderRef
	if err := r.selectAll(ctx, &found, q); err != nil {
		return nil, fmt.Errorf("find header: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// FindMaterial looks a catalog item up by code.
func (r *Repository) FindMaterial(ctx context.Context, code string) (*posting.Material, error) {
	q := r.sup.Builder().
		Select(materialColumns...).
		From(TableMaterial).
		Where(sq.Eq{"code": code})

	var found []posting.Material
	if err := r.selectAll(ctx, &found, q); err != nil {
		return nil, fmt.Errorf("find material: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// CreateMaterial inserts m and sets its ID.
func (r *Repository) CreateMaterial(ctx context.Context, m *posting.Material) error {
	q := r.sup.Builder().
		Insert(TableMaterial).
		SetMap(StructToMap(m, "id")).
		Suffix("RETURNING id")
	if err := r.insertReturning(ctx, q, &m.ID); err != nil {
		return fmt.Errorf("create material: %w", err)
	}
	return nil
}

// InsertLine writes one detail row.
func (r *Repository) InsertLine(ctx context.Context, l *posting.LineRecord) error {
	q := r.sup.Builder().
		Insert(TableLine).
		Columns("header_id", "line_no", "material_id", "quantity", "unit_price", "discount",
			"tax_code", "tax_rate", "base", "tax_amount").
		Values(l.HeaderID, l.LineNo, l.MaterialID, l.Quantity, l.UnitPrice, l.Discount,
			l.TaxCode, l.TaxRate, l.Base, l.TaxAmount)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert line %d: %w", l.LineNo, err)
	}
	return nil
}

// InsertPayment writes one payment row.
func (r *Repository) InsertPayment(ctx context.Context, p *posting.PaymentRecord) error {
	q := r.sup.Builder().
		Insert(TablePayment).
		Columns("header_id", "method_code", "amount").
		Values(p.HeaderID, p.MethodCode, p.Amount)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// RecalculateTotals refreshes the header totals from its lines.
func (r *Repository) RecalculateTotals(ctx context.Context, headerID int64) error {
	if r.opts.RecalcStatement != "" {
		stmt, err := r.sup.cfg.Placeholder().ReplacePlaceholders(r.opts.RecalcStatement)
		if err != nil {
			return fmt.Errorf("prepare recalc statement: %w", err)
		}
		return r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
			_, err := q.ExecContext(ctx, stmt, headerID)
			return err
		})
	}

	lineSum := func(expr, extra string) string {
		return "(SELECT COALESCE(SUM(" + expr + "), 0) FROM " + TableLine + " WHERE header_id = ?" + extra + ")"
	}
	code := r.opts.ConsumptionTaxCode

	q := r.sup.Builder().
		Update(TableHeader).
		Set("tax_base", sq.Expr(lineSum("base", ""), headerID)).
		Set("vat", sq.Expr(lineSum("tax_amount", " AND tax_code <> ?"), headerID, code)).
		Set("consumption_tax", sq.Expr(lineSum("tax_amount", " AND tax_code = ?"), headerID, code)).
		Set("total", sq.Expr(lineSum("base + tax_amount", ""), headerID)).
		Where(sq.Eq{"id": headerID})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("recalculate totals: %w", err)
	}
	return nil
}

// UpdateMetadata sets one post-commit header field.
func (r *Repository) UpdateMetadata(ctx context.Context, headerID int64, field posting.MetadataField, value any) error {
	if !metadataColumns[field] {
		return fmt.Errorf("unknown metadata field %q", field)
	}
	q := r.sup.Builder().
		Update(TableHeader).
		Set(string(field), value).
		Where(sq.Eq{"id": headerID})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	return nil
}

// NullMetadata returns the fields that are still null on the header.
func (r *Repository) NullMetadata(ctx context.Context, headerID int64, fields []posting.MetadataField) ([]posting.MetadataField, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		if !metadataColumns[f] {
			return nil, fmt.Errorf("unknown metadata field %q", f)
		}
		cols[i] = fmt.Sprintf("CASE WHEN %s IS NULL THEN 1 ELSE 0 END", f)
	}

	query, args, err := r.sup.Builder().
		Select(cols...).
		From(TableHeader).
		Where(sq.Eq{"id": headerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build metadata query: %w", err)
	}

	flags := make([]int, len(fields))
	dest := make([]any, len(fields))
	for i := range flags {
		dest[i] = &flags[i]
	}
	err = r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var missing []posting.MetadataField
	for i, f := range fields {
		if flags[i] == 1 {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// Ping runs a trivial statement through the supervisor; used by readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	query := "SELECT 1"
	if r.sup.cfg.Driver == DriverFirebird {
		query = "SELECT 1 FROM rdb$database"
	}
	return r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		var one int
		return q.QueryRowContext(ctx, query).Scan(&one)
	})
}

func (r *Repository) selectAll(ctx context.Context, dst any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		return sqlscan.Select(ctx, q, dst, query, args...)
	})
}

func (r *Repository) insertReturning(ctx context.Context, b sq.InsertBuilder, id *int64) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	return r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRowContext(ctx, query, args...).Scan(id)
	})
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func (r *Repository) exec(ctx context.Context, b sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build statement: %w", err)
	}
	return r.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
}
