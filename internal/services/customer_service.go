package services

import (
	"context"
	"fmt"

	"churn-insight/internal/database"
	"churn-insight/internal/dataset"
	"churn-insight/internal/features"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
)

// CustomerService loads customer exports into bank_customer and reads them back.
type CustomerService struct {
	db  *database.DBManager
	log *logger.Logger
}

func NewCustomerService(db *database.DBManager, log *logger.Logger) *CustomerService {
	return &CustomerService{db: db, log: log.With("component", "customers")}
}

// IngestCSV validates the export at path and upserts every row by customer id.
func (s *CustomerService) IngestCSV(ctx context.Context, path string) (int, error) {
	t, err := dataset.ReadCSV(path)
	if err != nil {
		return 0, err
	}
	n, err := s.Ingest(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", path, err)
	}
	return n, nil
}

func (s *CustomerService) Ingest(ctx context.Context, t *dataset.Table) (int, error) {
	records, err := features.ParseTable(t)
	if err != nil {
		return 0, err
	}
	rows := make([]models.Customer, len(records))
	for i, r := range records {
		rows[i] = CustomerModel(r)
	}
	if err := s.db.UpsertCustomers(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert customers: %w", err)
	}
	s.log.Info("customers ingested", "rows", len(rows))
	return len(rows), nil
}

// Table returns bank_customer as a table that passes the customer column gate.
func (s *CustomerService) Table(ctx context.Context) (*dataset.Table, error) {
	return s.db.LoadCustomerTable(ctx)
}

func (s *CustomerService) Get(ctx context.Context, id int64) (*models.Customer, error) {
	return s.db.Customer(ctx, id)
}

func CustomerModel(r features.CustomerRecord) models.Customer {
	return models.Customer{
		CustomerID:        r.CustomerID,
		Surname:           r.Surname,
		CreditScore:       r.CreditScore,
		Geography:         r.Geography,
		Gender:            r.Gender,
		Age:               r.Age,
		Tenure:            r.Tenure,
		Balance:           r.Balance,
		NumOfProducts:     r.NumOfProducts,
		HasCrCard:         r.HasCard,
		IsActiveMember:    r.IsActive,
		EstimatedSalary:   r.EstimatedSalary,
		Exited:            r.Exited,
		Complain:          r.Complain,
		SatisfactionScore: r.Satisfaction,
		CardType:          r.CardType,
		PointEarned:       r.PointEarned,
	}
}
