// Package bqstore records processed billing debts in a BigQuery ledger table.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-queueworker/pkg/billing"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// LedgerConfig holds configuration for the BigQuery ledger table.
type LedgerConfig struct {
	DatasetID string
	TableID   string
}

// LedgerRow is one processed debt as stored in BigQuery.
type LedgerRow struct {
	DebtID       string    `bigquery:"debt_id"`
	Name         string    `bigquery:"name"`
	GovernmentID int64     `bigquery:"government_id"`
	Email        string    `bigquery:"email"`
	DebtAmount   float64   `bigquery:"debt_amount"`
	DebtDueDate  string    `bigquery:"debt_due_date"`
	ProcessedAt  time.Time `bigquery:"processed_at"`
}

// RowInserter streams rows into a table. *bigquery.Inserter satisfies it.
type RowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// NewProductionBigQueryClient creates a BigQuery client suitable for production environments.
// It will use Application Default Credentials unless a specific credentials file is provided.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// NewLedgerInserter returns an inserter for the ledger table, creating the table with
// a schema inferred from LedgerRow if it does not exist yet.
func NewLedgerInserter(ctx context.Context, client *bigquery.Client, cfg *LedgerConfig, logger zerolog.Logger) (*bigquery.Inserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("ledger config must name a dataset and a table")
	}
	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	switch {
	case err == nil:
		logger.Info().Msg("Successfully connected to existing BigQuery table.")
	case isNotFound(err):
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		schema, inferErr := LedgerSchema()
		if inferErr != nil {
			return nil, inferErr
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("BigQuery table created successfully.")
	default:
		return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
	}
	return tableRef.Inserter(), nil
}

// LedgerSchema is the table schema inferred from LedgerRow.
func LedgerSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(LedgerRow{})
	if err != nil {
		return nil, fmt.Errorf("failed to infer ledger schema: %w", err)
	}
	return schema, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// LedgerProcessor is a billing.Processor that appends one ledger row per processed debt.
type LedgerProcessor struct {
	inserter RowInserter
	now      func() time.Time
	logger   zerolog.Logger
}

// NewLedgerProcessor creates a processor writing through inserter.
func NewLedgerProcessor(inserter RowInserter, logger zerolog.Logger) (*LedgerProcessor, error) {
	if inserter == nil {
		return nil, errors.New("row inserter cannot be nil")
	}
	return &LedgerProcessor{
		inserter: inserter,
		now:      time.Now,
		logger:   logger.With().Str("component", "LedgerProcessor").Logger(),
	}, nil
}

// Process streams the record's ledger row. Row-level failures are logged individually
// and the wrapped bigquery.PutMultiError is returned.
func (p *LedgerProcessor) Process(ctx context.Context, record *billing.Record) error {
	row := NewLedgerRow(record, p.now().UTC())
	err := p.inserter.Put(ctx, row)
	if err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				p.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Str("debt_id", record.DebtID).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed for %s: %w", record.DebtID, err)
	}
	p.logger.Debug().Str("debt_id", record.DebtID).Msg("Ledger row inserted.")
	return nil
}

// NewLedgerRow maps a billing record to its ledger row.
func NewLedgerRow(r *billing.Record, processedAt time.Time) *LedgerRow {
	return &LedgerRow{
		DebtID:       r.DebtID,
		Name:         r.Name,
		GovernmentID: r.GovernmentID,
		Email:        r.Email,
		DebtAmount:   r.DebtAmount,
		DebtDueDate:  r.DebtDueDate,
		ProcessedAt:  processedAt,
	}
}

var _ billing.Processor = (*LedgerProcessor)(nil)
