package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"permitgate/internal/scan/models"
	txcontext "permitgate/pkg/platform/tx"
)

// PostgresStore persists scan records in PostgreSQL. The table is append-only;
// this store exposes no update or delete.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier joins the transaction carried by ctx when there is one, so reads
// issued inside a transaction see its own uncommitted appends.
func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, record models.ScanRecord) error {
	query := `
		INSERT INTO scan_records (
			id, permit_id, document_number, scanned_by, location,
			device_info, outcome, scanned_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		record.ID, record.PermitID, record.DocumentNumber, record.ScannedBy,
		record.Location, record.DeviceInfo, record.Outcome, record.ScannedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}

// List returns one page of scan history matching the filter, newest first,
// with the total match count. Free-text search joins the permit row so vendor
// names are searchable alongside record fields.
func (s *PostgresStore) List(ctx context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error) {
	page = page.Normalize()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.From != nil {
		conds = append(conds, "r.scanned_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "r.scanned_at <= "+arg(*filter.To))
	}
	if filter.ScannedBy != "" {
		conds = append(conds, "r.scanned_by = "+arg(filter.ScannedBy))
	}
	if filter.Query != "" {
		pattern := arg("%" + filter.Query + "%")
		conds = append(conds, fmt.Sprintf(
			"(r.document_number ILIKE %s OR r.scanned_by ILIKE %s OR r.location ILIKE %s OR p.vendor_name ILIKE %s)",
			pattern, pattern, pattern, pattern,
		))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	from := " FROM scan_records r LEFT JOIN permits p ON p.id = r.permit_id" + where

	var total int
	if err := s.querier(ctx).QueryRowContext(ctx, "SELECT count(*)"+from, args...).Scan(&total); err != nil {
		return models.ScanPage{}, fmt.Errorf("count scan records: %w", err)
	}

	query := `
		SELECT r.id, r.permit_id, r.document_number, r.scanned_by, r.location,
		       r.device_info, r.outcome, r.scanned_at` + from + `
		ORDER BY r.scanned_at DESC, r.id DESC
		LIMIT ` + arg(page.PerPage) + ` OFFSET ` + arg(page.Offset())

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return models.ScanPage{}, fmt.Errorf("list scan records: %w", err)
	}
	defer rows.Close()

	result := models.ScanPage{Total: total}
	for rows.Next() {
		var r models.ScanRecord
		var documentNumber, deviceInfo sql.NullString
		if err := rows.Scan(&r.ID, &r.PermitID, &documentNumber, &r.ScannedBy, &r.Location, &deviceInfo, &r.Outcome, &r.ScannedAt); err != nil {
			return models.ScanPage{}, fmt.Errorf("scan row: %w", err)
		}
		r.DocumentNumber = documentNumber.String
		r.DeviceInfo = deviceInfo.String
		result.Records = append(result.Records, r)
	}
	if err := rows.Err(); err != nil {
		return models.ScanPage{}, fmt.Errorf("iterate scan records: %w", err)
	}
	return result, nil
}

// CountByPermit returns the number of recorded scans for a permit.
func (s *PostgresStore) CountByPermit(ctx context.Context, permitID string) (int, error) {
	var n int
	err := s.querier(ctx).QueryRowContext(ctx, `SELECT count(*) FROM scan_records WHERE permit_id = $1`, permitID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scans by permit: %w", err)
	}
	return n, nil
}
