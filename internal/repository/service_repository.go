package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/IMEICheckBot/internal/models"
)

// ServiceRepository persists the service catalog as an ordered list.
type ServiceRepository struct {
	db *sql.DB
}

func NewServiceRepository(db *sql.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

func (r *ServiceRepository) Load(ctx context.Context) ([]models.Service, error) {
	const query = `SELECT id, title, price, category FROM services ORDER BY position, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Title, &svc.Price, &svc.Category); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return services, nil
}

// Save replaces the stored catalog in one transaction.
func (r *ServiceRepository) Save(ctx context.Context, services []models.Service) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM services`); err != nil {
		return fmt.Errorf("clear services: %w", err)
	}
	const insert = `INSERT INTO services (id, title, price, category, position) VALUES (?, ?, ?, ?, ?)`
	for i, svc := range services {
		if _, err := tx.ExecContext(ctx, insert, svc.ID, svc.Title, svc.Price.StringFixed(2), svc.Category, i); err != nil {
			return fmt.Errorf("insert service %d: %w", svc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit services: %w", err)
	}
	return nil
}
