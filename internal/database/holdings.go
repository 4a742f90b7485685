package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const holdingColumns = `id, symbol, company, shares, purchase_price, current_price,
		       sector, last_refreshed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// SaveHolding inserts a new holding into the database
func (db *DB) SaveHolding(h *models.Holding) error {
	query := `
		INSERT INTO portfolio (
			id, symbol, company, shares, purchase_price, current_price,
			sector, last_refreshed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	now := time.Now()
	_, err := db.conn.Exec(query,
		h.ID, h.Symbol, h.Company, h.Shares, h.PurchasePrice, h.CurrentPrice,
		h.Sector, nullTime(h.LastRefreshed), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save holding %s: %w", h.Symbol, err)
	}
	h.CreatedAt = now
	h.UpdatedAt = now
	return nil
}

// UpdateHolding writes every mutable field of an existing holding
func (db *DB) UpdateHolding(h *models.Holding) error {
	query := `
		UPDATE portfolio SET
			symbol = $2, company = $3, shares = $4, purchase_price = $5,
			current_price = $6, sector = $7, last_refreshed = $8, updated_at = $9
		WHERE id = $1
	`
	now := time.Now()
	result, err := db.conn.Exec(query,
		h.ID, h.Symbol, h.Company, h.Shares, h.PurchasePrice,
		h.CurrentPrice, h.Sector, nullTime(h.LastRefreshed), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update holding %s: %w", h.Symbol, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, h.ID)
	}
	h.UpdatedAt = now
	return nil
}

// DeleteHolding removes a holding by ID
func (db *DB) DeleteHolding(id int) error {
	result, err := db.conn.Exec(`DELETE FROM portfolio WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// GetHoldingByID retrieves a holding by its ID
func (db *DB) GetHoldingByID(id int) (*models.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM portfolio WHERE id = $1`

	h, err := scanHolding(db.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

// GetAllHoldings retrieves every holding ordered by symbol
func (db *DB) GetAllHoldings() ([]*models.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM portfolio ORDER BY symbol, id`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*models.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}

	return holdings, nil
}

// HoldingExists checks if a holding with the given ID exists
func (db *DB) HoldingExists(id int) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`SELECT EXISTS(SELECT 1 FROM portfolio WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check holding existence: %w", err)
	}
	return exists, nil
}

func scanHolding(row rowScanner) (*models.Holding, error) {
	var h models.Holding
	var company, sector sql.NullString
	var lastRefreshed sql.NullTime

	err := row.Scan(
		&h.ID, &h.Symbol, &company, &h.Shares, &h.PurchasePrice, &h.CurrentPrice,
		&sector, &lastRefreshed, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if company.Valid {
		h.Company = company.String
	}
	if sector.Valid {
		h.Sector = sector.String
	}
	if lastRefreshed.Valid {
		t := lastRefreshed.Time
		h.LastRefreshed = &t
	}
	return &h, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
