// Package billing implements the billing worker's processing steps: parsing a
// comma-separated billing line into a Record, suppressing already-processed records,
// running the processing action, and dispatching a notification.
package billing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldCount is the exact number of comma-separated fields in a billing line.
const FieldCount = 6

// DueDateLayout is the accepted format of the due date field.
const DueDateLayout = "2006-01-02"

// ErrInvalidRecord is wrapped by every ParseRecord failure.
var ErrInvalidRecord = errors.New("invalid billing record")

// Record is one billing line. DebtID is the deduplication key.
type Record struct {
	Name             string  `json:"name"`
	GovernmentID     int64   `json:"government_id"`
	Email            string  `json:"email"`
	DebtAmount       float64 `json:"debt_amount"`
	DebtDueDate      string  `json:"debt_due_date"`
	DebtID           string  `json:"debt_id"`
	HasBeenProcessed bool    `json:"has_been_processed"`
	HasBeenNotified  bool    `json:"has_been_notified"`
}

// ParseRecord parses "name,government id,email,amount,due date,debt id". Commas
// inside fields are not supported.
func ParseRecord(line string) (*Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != FieldCount {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidRecord, FieldCount, len(fields))
	}

	govID, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: government id: %v", ErrInvalidRecord, err)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: debt amount: %v", ErrInvalidRecord, err)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: debt amount %q is not finite", ErrInvalidRecord, fields[3])
	}
	if _, err := time.Parse(DueDateLayout, strings.TrimSpace(fields[4])); err != nil {
		return nil, fmt.Errorf("%w: due date: %v", ErrInvalidRecord, err)
	}

	return &Record{
		Name:         fields[0],
		GovernmentID: govID,
		Email:        fields[2],
		DebtAmount:   amount,
		DebtDueDate:  fields[4],
		DebtID:       fields[5],
	}, nil
}

// ProcessedKey is the cache key marking that a record's processing side effects ran.
func ProcessedKey(debtID string) string {
	return "processed:" + debtID
}

// NotificationKey is the cache key marking that a record's notification was dispatched.
func NotificationKey(debtID string) string {
	return "notification:" + debtID
}
