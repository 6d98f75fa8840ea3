// Package catalog provides read-only access to the relational truck catalog:
// company→plates, tire→unit, per-truck unit metadata, and axle/tire layout.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// maxAxles matches the unit_catalog schema, which carries one tire count
// column per axle up to four axles.
const maxAxles = 4

// UnitInfo is the per-truck metadata joined onto every event.
type UnitInfo struct {
	Status         string
	UnitIdentifier string
	UnitType       string
}

// Layout describes the axle/tire geometry of a truck.
type Layout struct {
	UnitCatalogID int64
	AxlesCount    int
	TiresPerAxle  []int
}

// Client wraps the MySQL connection pool.
type Client struct {
	db *sql.DB
}

// Open connects to the catalog database and verifies the connection.
func Open(dsn string) (*Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	log.Printf("[catalog] mysql connected")
	return &Client{db: db}, nil
}

// PlatesForCompany returns the license plates owned by a company. Used for
// subscriber authorization and bootstrap filtering.
func (c *Client) PlatesForCompany(ctx context.Context, companyID int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id
		FROM trucks
		WHERE company_id = ?
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("catalog plates for company %d: %w", companyID, err)
	}
	defer rows.Close()

	var plates []string
	for rows.Next() {
		var plate sql.NullString
		if err := rows.Scan(&plate); err != nil {
			return nil, fmt.Errorf("catalog scan plate: %w", err)
		}
		if p := strings.TrimSpace(plate.String); p != "" {
			plates = append(plates, p)
		}
	}
	return plates, rows.Err()
}

// UnitIDForTire maps a tire code to the unit it is mounted on. Returns ""
// when the tire is unknown.
func (c *Client) UnitIDForTire(ctx context.Context, tyreCode string) (string, error) {
	var unitID sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT unit_id
		FROM tires
		WHERE id = ?
	`, tyreCode).Scan(&unitID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog unit for tire %s: %w", tyreCode, err)
	}
	return strings.TrimSpace(unitID.String), nil
}

// UnitInfo returns status, unit identifier and unit type for a plate.
// Returns nil when the plate is not in the catalog.
func (c *Client) UnitInfo(ctx context.Context, plate string) (*UnitInfo, error) {
	var status, identifier, unitType sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT status, unit_identifier, unit_catalog_id
		FROM trucks
		WHERE id = ?
	`, plate).Scan(&status, &identifier, &unitType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog unit info for %s: %w", plate, err)
	}
	return &UnitInfo{
		Status:         status.String,
		UnitIdentifier: identifier.String,
		UnitType:       unitType.String,
	}, nil
}

// TruckLayout returns the axle/tire layout for a plate, or nil when the plate
// or its catalog entry is unknown.
func (c *Client) TruckLayout(ctx context.Context, plate string) (*Layout, error) {
	var catalogID sql.NullInt64
	err := c.db.QueryRowContext(ctx, `
		SELECT unit_catalog_id
		FROM trucks
		WHERE id = ?
	`, plate).Scan(&catalogID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog layout for %s: %w", plate, err)
	}
	if !catalogID.Valid {
		return nil, nil
	}

	var axlesCount sql.NullInt64
	tires := make([]sql.NullInt64, maxAxles)
	err = c.db.QueryRowContext(ctx, `
		SELECT axles_count, tires_axle_1, tires_axle_2, tires_axle_3, tires_axle_4
		FROM unit_catalog
		WHERE id = ?
	`, catalogID.Int64).Scan(&axlesCount, &tires[0], &tires[1], &tires[2], &tires[3])
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog unit_catalog %d: %w", catalogID.Int64, err)
	}

	n := int(axlesCount.Int64)
	if n < 0 {
		n = 0
	}
	if n > maxAxles {
		n = maxAxles
	}
	layout := &Layout{
		UnitCatalogID: catalogID.Int64,
		AxlesCount:    n,
		TiresPerAxle:  make([]int, 0, n),
	}
	for i := 0; i < n; i++ {
		layout.TiresPerAxle = append(layout.TiresPerAxle, int(tires[i].Int64))
	}
	return layout, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}
