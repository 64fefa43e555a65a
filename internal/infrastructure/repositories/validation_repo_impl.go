package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/models"
)

// ValidationRepository implements validation data operations
type ValidationRepository struct {
	db *gorm.DB
}

// NewValidationRepository creates a new validation repository
func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create creates a new validation record
func (r *ValidationRepository) Create(ctx context.Context, validation *entities.Validation) error {
	m := validationToModel(validation)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	validation.ID = m.ID
	return nil
}

// GetByID gets a validation by ID
func (r *ValidationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Validation, error) {
	var m models.Validation
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return validationToEntity(&m), nil
}

// GetByProofID gets the latest validation for a proof
func (r *ValidationRepository) GetByProofID(ctx context.Context, proofID uuid.UUID) (*entities.Validation, error) {
	var m models.Validation
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("proof_id = ?", proofID).
		Order("created_at DESC").
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return validationToEntity(&m), nil
}

// ListByProtocol lists validations for a protocol with pagination
func (r *ValidationRepository) ListByProtocol(ctx context.Context, protocolID uuid.UUID, limit, offset int) ([]*entities.Validation, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.Validation{}).Where("protocol_id = ?", protocolID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Validation
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.Validation, 0, len(rows))
	for i := range rows {
		out = append(out, validationToEntity(&rows[i]))
	}
	return out, int(total), nil
}

// GetDetailByFinding joins the latest validation of a finding with its proof
// and the finding itself.
func (r *ValidationRepository) GetDetailByFinding(ctx context.Context, findingID uuid.UUID) (*entities.ValidationDetail, error) {
	db := GetDB(ctx, r.db)

	var fm models.Finding
	if err := db.WithContext(ctx).Where("id = ?", findingID).First(&fm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}

	var pm models.Proof
	if err := db.WithContext(ctx).
		Where("finding_id = ?", findingID).
		Order("submitted_at DESC").
		First(&pm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}

	var vm models.Validation
	if err := db.WithContext(ctx).
		Where("proof_id = ?", pm.ID).
		Order("created_at DESC").
		First(&vm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}

	return &entities.ValidationDetail{
		Validation: *validationToEntity(&vm),
		Proof:      *proofToEntity(&pm),
		Finding:    *findingToEntity(&fm),
	}, nil
}

func validationToModel(v *entities.Validation) *models.Validation {
	m := &models.Validation{
		ID:               v.ID,
		ProofID:          v.ProofID,
		ScanID:           v.ScanID,
		ProtocolID:       v.ProtocolID,
		ValidatorAgentID: v.ValidatorAgentID,
		Result:           string(v.Result),
		ExecutionLog:     v.ExecutionLog,
		CreatedAt:        v.CreatedAt,
	}
	if v.StateChanges.Valid {
		s := v.StateChanges.String
		m.StateChanges = &s
	}
	if v.TransactionHash.Valid {
		s := v.TransactionHash.String
		m.TransactionHash = &s
	}
	if v.GasUsed.Valid {
		g := v.GasUsed.Int64
		m.GasUsed = &g
	}
	if v.FailureReason.Valid {
		s := v.FailureReason.String
		m.FailureReason = &s
	}
	return m
}

func validationToEntity(m *models.Validation) *entities.Validation {
	e := &entities.Validation{
		ID:               m.ID,
		ProofID:          m.ProofID,
		ScanID:           m.ScanID,
		ProtocolID:       m.ProtocolID,
		ValidatorAgentID: m.ValidatorAgentID,
		Result:           entities.ValidationResult(m.Result),
		ExecutionLog:     m.ExecutionLog,
		CreatedAt:        m.CreatedAt,
	}
	if m.StateChanges != nil {
		e.StateChanges = null.StringFrom(*m.StateChanges)
	}
	if m.TransactionHash != nil {
		e.TransactionHash = null.StringFrom(*m.TransactionHash)
	}
	if m.GasUsed != nil {
		e.GasUsed = null.Int64From(*m.GasUsed)
	}
	if m.FailureReason != nil {
		e.FailureReason = null.StringFrom(*m.FailureReason)
	}
	return e
}
