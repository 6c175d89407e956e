package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
	"github.com/yarntrack/yarn-track-api/pkg/export"
)

// ExportFormat selects the rendering of an order export.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type exportRenderer interface {
	Render(table export.Table, title string) ([]byte, error)
}

// ExportResult is a rendered export document.
type ExportResult struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ExportService flattens orders into tabular documents, one row per
// order item.
type ExportService struct {
	repo    OrderRepository
	logger  *zap.Logger
	maxRows int

	renderers map[ExportFormat]exportRenderer
}

// NewExportService constructs an ExportService instance.
func NewExportService(repo OrderRepository, logger *zap.Logger, maxRows int) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:    repo,
		logger:  logger,
		maxRows: maxRows,
		renderers: map[ExportFormat]exportRenderer{
			FormatCSV: export.NewCSVRenderer(),
			FormatPDF: export.NewPDFRenderer(),
		},
	}
}

var exportColumns = []string{
	"SDY Number", "Date", "Party", "Delivery Party", "Salesperson",
	"Denier", "SL Number", "Quantity", "Status", "Last Updated By",
}

// Export renders the matching orders in the requested format. Sales
// actors export only their own orders.
func (s *ExportService) Export(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery, format ExportFormat) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	filter := models.OrderFilter{
		SalespersonID: query.SalespersonID,
		Search:        query.Search,
		StartDate:     query.StartDate,
		EndDate:       query.EndDate,
	}
	if actor.Role == models.RoleSales {
		filter.SalespersonID = actor.UserID
	}

	rows, err := s.repo.ExportRows(ctx, filter, s.maxRows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect export rows")
	}

	table := export.Table{Columns: exportColumns, Rows: make([][]string, 0, len(rows))}
	for _, row := range rows {
		table.Rows = append(table.Rows, []string{
			row.SdyNumber,
			row.Date.Format("2006-01-02"),
			row.PartyName,
			row.DeliveryParty,
			row.Salesperson,
			derefOr(row.Denier, ""),
			derefOr(row.SlNumber, ""),
			fmt.Sprintf("%d", row.Quantity),
			string(row.Status),
			derefOr(row.LastUpdatedBy, ""),
		})
	}

	data, err := renderer.Render(table, "Order Report")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	result := &ExportResult{Data: data}
	switch format {
	case FormatPDF:
		result.ContentType = "application/pdf"
		result.Filename = "orders.pdf"
	default:
		result.ContentType = "text/csv"
		result.Filename = "orders.csv"
	}

	s.logger.Info("orders exported",
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)))
	return result, nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
