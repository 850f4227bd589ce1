// Package expense tracks meal programme spending.
package expense

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"mealdash/internal/cloudinary"
)

// Category of spending.
type Category string

const (
	Groceries Category = "groceries"
	Transport Category = "transport"
	Utensils  Category = "utensils"
	Other     Category = "other"
)

// ParseCategory accepts a category case-insensitively.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case Groceries, Transport, Utensils, Other:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
}

var (
	ErrInvalidCategory = errors.New("expense: unknown category")
	ErrInvalidAmount   = errors.New("expense: amount must be zero or more")
)

// Expense is one spending entry.
type Expense struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	ReceiptURL  string    `json:"receiptUrl,omitempty"`
	SpentOn     time.Time `json:"spentOn"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists expenses.
type Store interface {
	Insert(ctx context.Context, e Expense) error
	ListBetween(ctx context.Context, from, to time.Time) ([]Expense, error)
}

// Service validates, stores and exports expenses.
type Service struct {
	store    Store
	uploader cloudinary.Uploader
	logger   *zap.Logger
}

// NewService creates a service. uploader may be nil; receipts are then
// rejected.
func NewService(store Store, uploader cloudinary.Uploader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, uploader: uploader, logger: logger}
}

// Add records an expense. receipt is optional.
func (s *Service) Add(ctx context.Context, e Expense, receipt []byte) (Expense, error) {
	cat, err := ParseCategory(string(e.Category))
	if err != nil {
		return Expense{}, err
	}
	if e.Amount < 0 || math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return Expense{}, ErrInvalidAmount
	}
	e.Category = cat
	e.Amount = math.Round(e.Amount*100) / 100
	e.Description = strings.TrimSpace(e.Description)
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	if e.SpentOn.IsZero() {
		e.SpentOn = e.CreatedAt
	}
	y, m, d := e.SpentOn.Date()
	e.SpentOn = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	if len(receipt) > 0 {
		if s.uploader == nil {
			return Expense{}, errors.New("expense: receipt storage not configured")
		}
		res, err := s.uploader.Upload(ctx, receipt, "receipt-"+e.ID)
		if err != nil {
			return Expense{}, fmt.Errorf("expense: upload receipt: %w", err)
		}
		e.ReceiptURL = res.SecureURL
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return Expense{}, err
	}
	return e, nil
}

// Month returns the expenses of one calendar month.
func (s *Service) Month(ctx context.Context, year int, month time.Month) ([]Expense, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return s.store.ListBetween(ctx, from, from.AddDate(0, 1, 0))
}

// ParseMonth reads "2006-01"; empty means the current month.
func ParseMonth(s string) (int, time.Month, error) {
	if s == "" {
		now := time.Now().UTC()
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expense: month must look like 2024-03: %w", err)
	}
	return t.Year(), t.Month(), nil
}

var exportHeader = []interface{}{"Date", "Category", "Description", "Amount", "Receipt"}

// Export writes the month as a spreadsheet with a total row.
func (s *Service) Export(ctx context.Context, w io.Writer, year int, month time.Month) error {
	rows, err := s.Month(ctx, year, month)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := fmt.Sprintf("%04d-%02d", year, int(month))
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return err
	}
	var total float64
	for i, e := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{e.SpentOn.Format(time.DateOnly), string(e.Category), e.Description, e.Amount, e.ReceiptURL}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		total += e.Amount
	}
	last := len(rows) + 2
	totalRow := []interface{}{"Total", "", "", math.Round(total*100) / 100}
	cell, _ := excelize.CoordinatesToCellName(1, last)
	if err := f.SetSheetRow(sheet, cell, &totalRow); err != nil {
		return err
	}
	if len(rows) > 0 {
		formula := fmt.Sprintf("SUM(D2:D%d)", last-1)
		if err := f.SetCellFormula(sheet, fmt.Sprintf("D%d", last), formula); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "C", "C", 40)
	_, err = f.WriteTo(w)
	return err
}
