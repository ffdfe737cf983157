// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions stores training history in one database transaction.
// Rows whose ID already exists are left untouched.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, r.rebind(`
		INSERT INTO transactions (
			id, timestamp, name, amount, location, zip,
			sender_id, company_id, balance, fraud, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	createdAt := r.now()
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx,
			tx.ID, tx.Timestamp.UTC(), tx.Name, tx.Amount, tx.Location, tx.Zip,
			tx.SenderID, tx.CompanyID, tx.Balance, labelValue(tx.Fraud), createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
	}

	return dbtx.Commit()
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, timestamp, name, amount, location, zip,
			   sender_id, company_id, balance, fraud
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var zip, senderID, companyID sql.NullString
	var fraud sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.Timestamp, &tx.Name, &tx.Amount, &tx.Location, &zip,
		&senderID, &companyID, &tx.Balance, &fraud,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Zip, tx.SenderID, tx.CompanyID = zip.String, senderID.String, companyID.String
	if fraud.Valid {
		label := fraud.Int64 == 1
		tx.Fraud = &label
	}
	return &tx, nil
}

// CountTransactions returns the number of stored history rows.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// ListCompanies returns every registered company name.
func (r *SQLRepository) ListCompanies(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM companies ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddCompanies appends names to the registry. Existing names keep their
// original source.
func (r *SQLRepository) AddCompanies(ctx context.Context, source string, names []string) error {
	if source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidInput)
	}
	if len(names) == 0 {
		return nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, r.rebind(`
		INSERT INTO companies (name, source, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	createdAt := r.now()
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, name, source, createdAt); err != nil {
			return fmt.Errorf("failed to insert company %q: %w", name, err)
		}
	}
	return dbtx.Commit()
}

// SaveArtifacts stores a profile and model pair from one training run.
func (r *SQLRepository) SaveArtifacts(ctx context.Context, a *domain.Artifacts) error {
	if a == nil || a.Profile == nil || a.Model == nil {
		return fmt.Errorf("%w: profile and model are required", ErrInvalidInput)
	}
	if a.Model.ProfileID != a.Profile.ID || !a.Model.Schema.Equal(a.Profile.Schema) {
		return domain.ErrSchemaMismatch
	}

	profile, err := json.Marshal(a.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	model, err := json.Marshal(a.Model)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	query := `
		INSERT INTO artifacts (id, profile_id, profile, model, schema_fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.Model.ID, a.Profile.ID, string(profile), string(model),
		a.Model.Schema.Fingerprint(), a.Model.CreatedAt.UTC(),
	)
	return err
}

// LatestArtifacts returns the most recently trained pair.
func (r *SQLRepository) LatestArtifacts(ctx context.Context) (*domain.Artifacts, error) {
	query := `
		SELECT profile, model, schema_fingerprint
		FROM artifacts
		ORDER BY created_at DESC
		LIMIT 1
	`

	var profile, model, fingerprint string
	err := r.db.QueryRowContext(ctx, query).Scan(&profile, &model, &fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var a domain.Artifacts
	if err := json.Unmarshal([]byte(profile), &a.Profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := json.Unmarshal([]byte(model), &a.Model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if a.Model.Schema.Fingerprint() != fingerprint || !a.Model.Schema.Equal(a.Profile.Schema) {
		return nil, domain.ErrSchemaMismatch
	}
	return &a, nil
}

// SaveEvaluation stores an evaluation result.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	result, err := json.Marshal(eval.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	reasons, _ := json.Marshal(eval.Reasons)
	metadata, _ := json.Marshal(eval.Metadata)

	query := `
		INSERT INTO evaluations (
			id, tx_id, status, score, threshold, timestamp,
			profile_id, model_id, result, reasons, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.TxID, eval.Status, eval.Score, eval.Threshold, eval.Timestamp.UTC(),
		eval.ProfileID, eval.ModelID, string(result), string(reasons), string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	query := `
		SELECT id, tx_id, status, score, threshold, timestamp,
			   profile_id, model_id, result, reasons, metadata
		FROM evaluations
		WHERE id = ?
	`

	var eval domain.Evaluation
	var result, metadata string
	var reasons sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), evalID).Scan(
		&eval.ID, &eval.TxID, &eval.Status, &eval.Score, &eval.Threshold, &eval.Timestamp,
		&eval.ProfileID, &eval.ModelID, &result, &reasons, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(result), &eval.Result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	if reasons.Valid && reasons.String != "" {
		_ = json.Unmarshal([]byte(reasons.String), &eval.Reasons)
	}
	_ = json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func labelValue(fraud *bool) sql.NullInt64 {
	if fraud == nil {
		return sql.NullInt64{}
	}
	if *fraud {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Int64: 0, Valid: true}
}

// compile-time check
var _ domain.Repository = (*SQLRepository)(nil)
