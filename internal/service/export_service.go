package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/export"
)

type transcriptSource interface {
	Transcript(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.Transcript, error)
}

type statementSource interface {
	Summary(ctx context.Context, actor *models.JWTClaims, studentID, year, semester string) (*models.FinanceSummary, error)
}

type timetableSource interface {
	List(ctx context.Context, actor *models.JWTClaims, filter models.TimetableFilter) ([]models.Timetable, error)
}

// Document is a rendered file ready to stream.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders transcripts, fee statements and timetables. Authorization is
// delegated to the source services so exports never widen what a caller can read.
type ExportService struct {
	grades    transcriptSource
	finance   statementSource
	timetable timetableSource
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(grades transcriptSource, finance statementSource, timetable timetableSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{grades: grades, finance: finance, timetable: timetable, logger: logger, now: time.Now}
}

// Transcript renders a student's finalised grades. An empty studentID means the caller.
func (s *ExportService) Transcript(ctx context.Context, actor *models.JWTClaims, studentID, format string) (*Document, error) {
	f, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	transcript, err := s.grades.Transcript(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	student := transcript.Student
	table := export.Table{
		Title: "Academic Transcript",
		Meta: []export.Field{
			{Label: "Student", Value: strings.TrimSpace(student.FirstName + " " + student.LastName)},
			{Label: "Matricule", Value: student.Matricule},
			{Label: "Generated", Value: transcript.GeneratedAt.Format("2006-01-02")},
		},
		Headers: []string{"Year", "Semester", "Code", "Course", "Credits", "CA", "Exam", "Total", "Grade", "Points"},
		Footer: []export.Field{
			{Label: "Total credits", Value: strconv.Itoa(transcript.TotalCredits)},
			{Label: "GPA", Value: formatFloat(transcript.GPA)},
		},
	}
	for _, g := range transcript.Grades {
		table.Rows = append(table.Rows, []string{
			g.AcademicYear, g.Semester, g.CourseCode, g.CourseName, strconv.Itoa(g.Credits),
			formatFloat(g.CAMarks), formatFloat(g.ExamMarks), formatFloat(g.TotalMarks), g.LetterGrade, formatFloat(g.GradePoints),
		})
	}
	return s.render(f, table, "transcript_"+student.Matricule)
}

// FeeStatement renders a student's installments for a semester.
func (s *ExportService) FeeStatement(ctx context.Context, actor *models.JWTClaims, studentID, year, semester, format string) (*Document, error) {
	f, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	summary, err := s.finance.Summary(ctx, actor, studentID, year, semester)
	if err != nil {
		return nil, err
	}
	fin := summary.Finance
	table := export.Table{
		Title: "Fee Statement",
		Meta: []export.Field{
			{Label: "Academic year", Value: fin.AcademicYear},
			{Label: "Semester", Value: fin.Semester},
			{Label: "Currency", Value: summary.Currency},
		},
		Headers: []string{"#", "Due date", "Amount", "Paid", "Balance", "Status", "Paid on"},
		Footer: []export.Field{
			{Label: "Total due", Value: formatFloat(fin.TotalFeeAmount)},
			{Label: "Total paid", Value: formatFloat(fin.TotalPaidAmount)},
			{Label: "Outstanding", Value: formatFloat(fin.OutstandingAmount)},
			{Label: "Status", Value: string(fin.PaymentStatus)},
		},
	}
	if fin.IsBlocked {
		table.Footer = append(table.Footer, export.Field{Label: "Blocked", Value: deref(fin.BlockReason)})
	}
	for _, inst := range summary.Installments {
		paidOn := ""
		if inst.PaidDate != nil {
			paidOn = inst.PaidDate.Format("2006-01-02")
		}
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("%d/%d", inst.InstallmentNumber, inst.TotalInstallments),
			inst.DueDate.Format("2006-01-02"),
			formatFloat(inst.Amount), formatFloat(inst.PaidAmount), formatFloat(models.FromMinor(inst.Remaining())),
			string(inst.Status), paidOn,
		})
	}
	name := fmt.Sprintf("fees_%s_%s_s%s", fin.StudentID, strings.ReplaceAll(fin.AcademicYear, "/", "-"), fin.Semester)
	return s.render(f, table, name)
}

var weekdays = [...]string{"", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Timetable renders the slots visible to the caller.
func (s *ExportService) Timetable(ctx context.Context, actor *models.JWTClaims, filter models.TimetableFilter, format string) (*Document, error) {
	f, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	slots, err := s.timetable.List(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	table := export.Table{
		Title:   "Timetable",
		Headers: []string{"Day", "Start", "End", "Code", "Course", "Room"},
	}
	if filter.AcademicYear != "" {
		table.Meta = append(table.Meta, export.Field{Label: "Academic year", Value: filter.AcademicYear})
	}
	if filter.Semester != "" {
		table.Meta = append(table.Meta, export.Field{Label: "Semester", Value: filter.Semester})
	}
	for _, slot := range slots {
		day := ""
		if slot.DayOfWeek > 0 && slot.DayOfWeek < len(weekdays) {
			day = weekdays[slot.DayOfWeek]
		}
		table.Rows = append(table.Rows, []string{day, slot.StartTime, slot.EndTime, slot.CourseCode, slot.CourseName, slot.Room})
	}
	return s.render(f, table, "timetable")
}

func (s *ExportService) render(f export.Format, table export.Table, name string) (*Document, error) {
	renderer, err := export.NewRenderer(f)
	if err != nil {
		return nil, internalError(err, "no renderer for "+string(f))
	}
	body, err := renderer.Render(table)
	if err != nil {
		return nil, internalError(err, "failed to render "+string(f))
	}
	s.logger.Debug("export rendered", zap.String("name", name), zap.String("format", string(f)), zap.Int("bytes", len(body)))
	return &Document{
		Filename:    fmt.Sprintf("%s_%s.%s", name, s.now().UTC().Format("20060102"), f),
		ContentType: f.ContentType(),
		Body:        body,
	}, nil
}

func parseFormat(value string) (export.Format, error) {
	f, err := export.ParseFormat(value)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
