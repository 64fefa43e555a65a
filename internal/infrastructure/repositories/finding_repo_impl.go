package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/models"
)

// FindingRepository implements finding data operations
type FindingRepository struct {
	db *gorm.DB
}

// NewFindingRepository creates a new finding repository
func NewFindingRepository(db *gorm.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// Create creates a new finding
func (r *FindingRepository) Create(ctx context.Context, finding *entities.Finding) error {
	m := findingToModel(finding)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	finding.ID = m.ID
	return nil
}

// GetByID gets a finding by ID
func (r *FindingRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Finding, error) {
	var m models.Finding
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return findingToEntity(&m), nil
}

// ListByScan lists all findings of one scan
func (r *FindingRepository) ListByScan(ctx context.Context, scanID uuid.UUID) ([]*entities.Finding, error) {
	var rows []models.Finding
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Finding, 0, len(rows))
	for i := range rows {
		out = append(out, findingToEntity(&rows[i]))
	}
	return out, nil
}

// UpdateStatus updates the finding status, optionally stamping validatedAt
func (r *FindingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.FindingStatus, validatedAt *time.Time) error {
	updates := map[string]interface{}{"status": string(status), "updated_at": time.Now()}
	if validatedAt != nil {
		updates["validated_at"] = *validatedAt
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Finding{}).Where("id = ?", id).Updates(updates).Error
}

func findingToModel(f *entities.Finding) *models.Finding {
	m := &models.Finding{
		ID:                f.ID,
		ScanID:            f.ScanID,
		VulnerabilityType: f.VulnerabilityType,
		Severity:          string(f.Severity),
		FilePath:          f.FilePath,
		Description:       f.Description,
		Confidence:        f.Confidence,
		AnalysisMethod:    string(f.AnalysisMethod),
		Status:            string(f.Status),
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
	if f.LineNumber.Valid {
		v := f.LineNumber.Int
		m.LineNumber = &v
	}
	if f.AIConfidence.Valid {
		v := f.AIConfidence.Float64
		m.AIConfidence = &v
	}
	if f.ValidatedAt.Valid {
		v := f.ValidatedAt.Time
		m.ValidatedAt = &v
	}
	if f.CodeSnippet.Valid {
		v := f.CodeSnippet.String
		m.CodeSnippet = &v
	}
	if f.RemediationSuggestion.Valid {
		v := f.RemediationSuggestion.String
		m.RemediationSuggestion = &v
	}
	return m
}

func findingToEntity(m *models.Finding) *entities.Finding {
	e := &entities.Finding{
		ID:                m.ID,
		ScanID:            m.ScanID,
		VulnerabilityType: m.VulnerabilityType,
		Severity:          entities.Severity(m.Severity),
		FilePath:          m.FilePath,
		Description:       m.Description,
		Confidence:        m.Confidence,
		AnalysisMethod:    entities.AnalysisMethod(m.AnalysisMethod),
		Status:            entities.FindingStatus(m.Status),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.LineNumber != nil {
		e.LineNumber = null.IntFrom(*m.LineNumber)
	}
	if m.AIConfidence != nil {
		e.AIConfidence = null.Float64From(*m.AIConfidence)
	}
	if m.ValidatedAt != nil {
		e.ValidatedAt = null.TimeFrom(*m.ValidatedAt)
	}
	if m.CodeSnippet != nil {
		e.CodeSnippet = null.StringFrom(*m.CodeSnippet)
	}
	if m.RemediationSuggestion != nil {
		e.RemediationSuggestion = null.StringFrom(*m.RemediationSuggestion)
	}
	return e
}
