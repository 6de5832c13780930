package service

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// certificateNamespace scopes the name-based UUIDs used as certificate numbers
var certificateNamespace = uuid.MustParse("6f1c7e52-3b1a-4f0e-9a57-0c2d8e4b9a31")

// SettlementService produces certificates for finalized pay applications
type SettlementService interface {
	Export(ctx context.Context, appID int64) (*entity.Certificate, error)
	Render(ctx context.Context, appID int64, writer port.CertificateWriter, w io.Writer) (*entity.Certificate, error)
}

type settlementServiceImpl struct {
	store  port.Store
	auth   *Authorizer
	logger Logger
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(store port.Store, auth *Authorizer, logger Logger) SettlementService {
	return &settlementServiceImpl{store: store, auth: auth, logger: logger}
}

// Export builds the certificate of a finalized application from its snapshot.
// Repeated exports of the same application return identical certificates.
func (s *settlementServiceImpl) Export(ctx context.Context, appID int64) (*entity.Certificate, error) {
	app, err := s.store.LoadPayApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.LoadProject(ctx, app.ProjectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.auth.Require(ctx, project.OrganizationID, "export_certificate"); err != nil {
		return nil, err
	}
	if app.Status != entity.StatusFinalized {
		return nil, apperr.NotFinalized(app.ID, app.Status)
	}

	cert := BuildCertificate(project, app)
	s.logger.Info("Certificate exported",
		"pay_application_id", app.ID,
		"certificate_number", cert.Number,
		"current_payment_due", cert.Summary.CurrentPaymentDue.String(),
	)
	return cert, nil
}

// Render exports the certificate and writes it with the given writer
func (s *settlementServiceImpl) Render(ctx context.Context, appID int64, writer port.CertificateWriter, w io.Writer) (*entity.Certificate, error) {
	cert, err := s.Export(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := writer.Write(ctx, cert, w); err != nil {
		s.logger.Error("Failed to render certificate", "error", err, "pay_application_id", appID)
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return cert, nil
}

// BuildCertificate derives every certificate figure from the application's
// frozen snapshot; project supplies only header fields. Previous certificates
// are the work and stored materials certified by earlier applications, less
// the retainage held on that work.
func BuildCertificate(project *entity.Project, app *entity.PayApplication) *entity.Certificate {
	cert := &entity.Certificate{
		Number:            CertificateNumber(app),
		PayApplicationID:  app.ID,
		ApplicationNumber: app.ApplicationNumber,
		ProjectID:         app.ProjectID,
		ProjectName:       project.Name,
		OrganizationID:    project.OrganizationID,
		ContractorID:      app.ContractorID,
		Revision:          app.Revision,
		FinalizedBy:       app.FinalizedBy,
		Reviewers:         certifiedReviewers(app),
	}
	if app.SubmittedAt != nil {
		cert.SubmittedAt = *app.SubmittedAt
	}
	if app.FinalizedAt != nil {
		cert.FinalizedAt = *app.FinalizedAt
	}

	var sum entity.CertificateSummary
	previousRetained := decimal.Zero
	for _, line := range app.Snapshot {
		li := entity.LineItem{
			ScheduledValue:          line.ScheduledValue,
			FromPreviousApplication: line.FromPreviousApplication,
			ThisPeriod:              line.ThisPeriod,
			MaterialsStored:         line.MaterialsStored,
			RetainagePercent:        line.RetainagePercent,
		}
		cl := entity.CertificateLine{
			ItemNumber:              line.ItemNumber,
			Description:             line.Description,
			ScheduledValue:          li.ScheduledValue,
			FromPreviousApplication: li.FromPreviousApplication,
			ThisPeriod:              li.ThisPeriod,
			MaterialsStored:         li.MaterialsStored,
			TotalCompletedToDate:    li.TotalCompletedToDate(),
			TotalCompletedAndStored: li.TotalCompletedAndStored(),
			PercentComplete:         li.PercentComplete(),
			BalanceToFinish:         li.BalanceToFinish(),
			Retainage:               li.Retainage(),
		}
		cert.Lines = append(cert.Lines, cl)

		sum.OriginalContractSum = sum.OriginalContractSum.Add(cl.ScheduledValue)
		sum.TotalCompletedAndStored = sum.TotalCompletedAndStored.Add(cl.TotalCompletedAndStored)
		sum.Retainage = sum.Retainage.Add(cl.Retainage)
		sum.PreviousCertificates = sum.PreviousCertificates.Add(cl.FromPreviousApplication).Add(line.CertifiedMaterials)
		previousRetained = previousRetained.Add(entity.RetainageOn(cl.FromPreviousApplication, line.RetainagePercent))
	}

	sum.TotalEarnedLessRetainage = sum.TotalCompletedAndStored.Sub(sum.Retainage)
	sum.PreviousCertificates = sum.PreviousCertificates.Sub(previousRetained)
	sum.CurrentPaymentDue = sum.TotalEarnedLessRetainage.Sub(sum.PreviousCertificates)
	sum.BalanceToFinish = sum.OriginalContractSum.Sub(sum.TotalEarnedLessRetainage)
	cert.Summary = sum
	return cert
}

// CertificateNumber is a stable identifier for one finalized revision
func CertificateNumber(app *entity.PayApplication) string {
	name := fmt.Sprintf("pay-application:%d:revision:%d", app.ID, app.Revision)
	return uuid.NewSHA1(certificateNamespace, []byte(name)).String()
}

func certifiedReviewers(app *entity.PayApplication) []entity.CertifiedReviewer {
	decided := map[string]entity.ReviewDecision{}
	for _, d := range app.DecisionsForRevision(app.Revision) {
		decided[d.ReviewerID] = d
	}

	reviewers := make([]entity.CertifiedReviewer, 0, len(app.ReviewerChain))
	for i, id := range app.ReviewerChain {
		cr := entity.CertifiedReviewer{Position: i + 1, ReviewerID: id}
		if d, ok := decided[id]; ok {
			at := d.DecidedAt
			cr.Decision = d.Decision
			cr.DecidedAt = &at
		}
		reviewers = append(reviewers, cr)
	}
	return reviewers
}
