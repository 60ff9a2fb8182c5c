package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/export"
)

// Report formats.
const (
	ReportFormatCSV = "csv"
	ReportFormatPDF = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type companyOverviewSource interface {
	CompanyOverview(ctx context.Context, companyID string) (*models.CompanyOverview, error)
}

var reportHeaders = []string{"Email", "Name", "Role", "Allocated", "Used", "Sub-allocated", "Files", "Usage (%)"}

// ReportService renders tenant usage reports.
type ReportService struct {
	overview  companyOverviewSource
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService constructs a ReportService; nil renderers use the defaults.
func NewReportService(overview companyOverviewSource, csv csvRenderer, pdf pdfRenderer, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{
		overview:  overview,
		csv:       csv,
		pdf:       pdf,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UsageReport renders the member usage table of a company.
func (s *ReportService) UsageReport(ctx context.Context, companyID string, query dto.UsageReportQuery) (*dto.UsageReport, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report format")
	}
	format := query.Format
	if format == "" {
		format = ReportFormatCSV
	}

	overview, err := s.overview.CompanyOverview(ctx, companyID)
	if err != nil {
		return nil, err
	}
	dataset := buildUsageDataset(overview, s.now())
	title := fmt.Sprintf("Storage Usage %s", overview.Company.Name)

	var (
		content     []byte
		contentType string
	)
	switch format {
	case ReportFormatPDF:
		content, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		content, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render usage report")
	}

	s.logger.Sugar().Infow("usage report rendered", "company_id", companyID, "format", format, "members", len(overview.Members))
	return &dto.UsageReport{
		Filename:    reportFilename(overview.Company.Name, format, s.now()),
		ContentType: contentType,
		Content:     content,
	}, nil
}

func buildUsageDataset(overview *models.CompanyOverview, generated time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(overview.Members))
	for _, member := range overview.Members {
		committed := member.StorageUsed
		if member.Role == models.RoleAdmin {
			committed += member.AllocatedToUsers
		}
		rows = append(rows, map[string]string{
			"Email":         member.Email,
			"Name":          member.FullName,
			"Role":          string(member.Role),
			"Allocated":     units.BytesSize(float64(member.StorageAllocated)),
			"Used":          units.BytesSize(float64(member.StorageUsed)),
			"Sub-allocated": units.BytesSize(float64(member.AllocatedToUsers)),
			"Files":         fmt.Sprintf("%d", member.FileCount),
			"Usage (%)":     fmt.Sprintf("%.2f", percentOf(committed, member.StorageAllocated)),
		})
	}
	company := overview.Company
	return export.Dataset{
		Headers: reportHeaders,
		Rows:    rows,
		Numeric: map[string]bool{"Allocated": true, "Used": true, "Sub-allocated": true, "Files": true, "Usage (%)": true},
		Summary: []export.SummaryLine{
			{Label: "Company", Value: company.Name},
			{Label: "Total storage", Value: units.BytesSize(float64(company.TotalStorage))},
			{Label: "Used storage", Value: units.BytesSize(float64(company.UsedStorage))},
			{Label: "Allocated to users", Value: units.BytesSize(float64(company.AllocatedToUsers))},
			{Label: "Available", Value: units.BytesSize(float64(overview.Available))},
			{Label: "Over allocated", Value: fmt.Sprintf("%t", overview.IsOverAllocated)},
			{Label: "Generated", Value: generated.Format(time.RFC3339)},
		},
	}
}

func reportFilename(company, format string, now time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, company)
	if name == "" {
		name = "company"
	}
	return fmt.Sprintf("usage_%s_%s.%s", name, now.Format("20060102_150405"), format)
}
