package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/models"
)

// ProofRepository implements proof data operations
type ProofRepository struct {
	db *gorm.DB
}

// NewProofRepository creates a new proof repository
func NewProofRepository(db *gorm.DB) *ProofRepository {
	return &ProofRepository{db: db}
}

// Create creates a new proof
func (r *ProofRepository) Create(ctx context.Context, proof *entities.Proof) error {
	m := proofToModel(proof)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	proof.ID = m.ID
	return nil
}

// GetByID gets a proof by ID
func (r *ProofRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Proof, error) {
	var m models.Proof
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return proofToEntity(&m), nil
}

// ListByScan lists all proofs of one scan
func (r *ProofRepository) ListByScan(ctx context.Context, scanID uuid.UUID) ([]*entities.Proof, error) {
	var rows []models.Proof
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("submitted_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Proof, 0, len(rows))
	for i := range rows {
		out = append(out, proofToEntity(&rows[i]))
	}
	return out, nil
}

// UpdateStatus enforces the forward-only proof state machine. The current
// status is part of the WHERE clause so a concurrent transition loses cleanly.
func (r *ProofRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.ProofStatus) error {
	db := GetDB(ctx, r.db)

	var m models.Proof
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrNotFound
		}
		return err
	}

	current := entities.ProofStatus(m.Status)
	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: proof %s -> %s", domainerrors.ErrInvalidTransition, current, status)
	}

	now := time.Now()
	updates := map[string]interface{}{"status": string(status), "updated_at": now}
	switch status {
	case entities.ProofStatusConfirmed, entities.ProofStatusRejected, entities.ProofStatusFailed:
		updates["validated_at"] = now
	}

	res := db.WithContext(ctx).Model(&models.Proof{}).
		Where("id = ? AND status = ?", id, string(current)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: proof %s moved concurrently", domainerrors.ErrInvalidTransition, id)
	}
	return nil
}

// ResetToSubmitted is the stuck-proof recovery path. It only acts on proofs
// currently VALIDATING.
func (r *ProofRepository) ResetToSubmitted(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.Proof{}).
		Where("id = ? AND status = ?", id, string(entities.ProofStatusValidating)).
		Updates(map[string]interface{}{
			"status":     string(entities.ProofStatusSubmitted),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: proof %s is not validating", domainerrors.ErrInvalidTransition, id)
	}
	return nil
}

// SetOnChainResult records the registry validation id and transaction hash
func (r *ProofRepository) SetOnChainResult(ctx context.Context, id uuid.UUID, validationID int64, txHash string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Proof{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"on_chain_validation_id": validationID,
			"on_chain_tx_hash":       txHash,
			"updated_at":             time.Now(),
		}).Error
}

// FindStuck lists proofs sitting in SUBMITTED or VALIDATING since before cutoff
func (r *ProofRepository) FindStuck(ctx context.Context, cutoff time.Time) ([]*entities.Proof, error) {
	var rows []models.Proof
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("status IN ? AND submitted_at < ?",
			[]string{string(entities.ProofStatusSubmitted), string(entities.ProofStatusValidating)}, cutoff).
		Order("submitted_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Proof, 0, len(rows))
	for i := range rows {
		out = append(out, proofToEntity(&rows[i]))
	}
	return out, nil
}

func proofToModel(p *entities.Proof) *models.Proof {
	m := &models.Proof{
		ID:                  p.ID,
		FindingID:           p.FindingID,
		ScanID:              p.ScanID,
		EncryptedPayload:    p.EncryptedPayload,
		EncryptionKeyID:     p.EncryptionKeyID,
		ResearcherSignature: p.ResearcherSignature,
		Status:              string(p.Status),
		SubmittedAt:         p.SubmittedAt,
		UpdatedAt:           p.UpdatedAt,
	}
	if p.ValidatedAt.Valid {
		v := p.ValidatedAt.Time
		m.ValidatedAt = &v
	}
	if p.OnChainValidationID.Valid {
		v := p.OnChainValidationID.Int64
		m.OnChainValidationID = &v
	}
	if p.OnChainTxHash.Valid {
		v := p.OnChainTxHash.String
		m.OnChainTxHash = &v
	}
	return m
}

func proofToEntity(m *models.Proof) *entities.Proof {
	e := &entities.Proof{
		ID:                  m.ID,
		FindingID:           m.FindingID,
		ScanID:              m.ScanID,
		EncryptedPayload:    m.EncryptedPayload,
		EncryptionKeyID:     m.EncryptionKeyID,
		ResearcherSignature: m.ResearcherSignature,
		Status:              entities.ProofStatus(m.Status),
		SubmittedAt:         m.SubmittedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.ValidatedAt != nil {
		e.ValidatedAt = null.TimeFrom(*m.ValidatedAt)
	}
	if m.OnChainValidationID != nil {
		e.OnChainValidationID = null.Int64From(*m.OnChainValidationID)
	}
	if m.OnChainTxHash != nil {
		e.OnChainTxHash = null.StringFrom(*m.OnChainTxHash)
	}
	return e
}
