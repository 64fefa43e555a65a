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

// FeeRequestRepository implements x402 fee request data operations
type FeeRequestRepository struct {
	db *gorm.DB
}

// NewFeeRequestRepository creates a new fee request repository
func NewFeeRequestRepository(db *gorm.DB) *FeeRequestRepository {
	return &FeeRequestRepository{db: db}
}

// Create creates a new fee request
func (r *FeeRequestRepository) Create(ctx context.Context, req *entities.FeeRequest) error {
	m := feeRequestToModel(req)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	req.ID = m.ID
	return nil
}

// GetByID gets a fee request by ID
func (r *FeeRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.FeeRequest, error) {
	var m models.FeeRequest
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return feeRequestToEntity(&m), nil
}

// Complete marks a pending fee request paid. Only PENDING requests complete;
// an expired request stays expired.
func (r *FeeRequestRepository) Complete(ctx context.Context, id uuid.UUID, txHash string) error {
	now := time.Now()
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.FeeRequest{}).
		Where("id = ? AND status = ?", id, entities.FeeStatusPending).
		Updates(map[string]interface{}{
			"status":       string(entities.FeeStatusCompleted),
			"tx_hash":      txHash,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrFeeExpired
	}
	return nil
}

// FindCompletedByFingerprintSince backs the duplicate-charge guard
func (r *FeeRequestRepository) FindCompletedByFingerprintSince(ctx context.Context, fingerprint string, since time.Time) (*entities.FeeRequest, error) {
	var m models.FeeRequest
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("fingerprint = ? AND status = ? AND completed_at >= ?",
			fingerprint, entities.FeeStatusCompleted, since).
		Order("completed_at DESC").
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return feeRequestToEntity(&m), nil
}

// GetExpiredPending lists pending requests past their deadline
func (r *FeeRequestRepository) GetExpiredPending(ctx context.Context, limit int) ([]*entities.FeeRequest, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", entities.FeeStatusPending, time.Now()).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.FeeRequest
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.FeeRequest, 0, len(rows))
	for i := range rows {
		out = append(out, feeRequestToEntity(&rows[i]))
	}
	return out, nil
}

// ExpireRequests flips the given pending requests to EXPIRED
func (r *FeeRequestRepository) ExpireRequests(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.FeeRequest{}).
		Where("id IN ? AND status = ?", ids, entities.FeeStatusPending).
		Update("status", string(entities.FeeStatusExpired)).Error
}

func feeRequestToModel(f *entities.FeeRequest) *models.FeeRequest {
	m := &models.FeeRequest{
		ID:               f.ID,
		RequestType:      string(f.RequestType),
		RequesterAddress: f.RequesterAddress,
		Amount:           f.Amount,
		Status:           string(f.Status),
		ProtocolID:       f.ProtocolID,
		ExpiresAt:        f.ExpiresAt,
		CreatedAt:        f.CreatedAt,
	}
	if f.TxHash.Valid {
		v := f.TxHash.String
		m.TxHash = &v
	}
	if f.Fingerprint.Valid {
		v := f.Fingerprint.String
		m.Fingerprint = &v
	}
	if f.CompletedAt.Valid {
		v := f.CompletedAt.Time
		m.CompletedAt = &v
	}
	return m
}

func feeRequestToEntity(m *models.FeeRequest) *entities.FeeRequest {
	e := &entities.FeeRequest{
		ID:               m.ID,
		RequestType:      entities.FeeRequestType(m.RequestType),
		RequesterAddress: m.RequesterAddress,
		Amount:           m.Amount,
		Status:           entities.FeeRequestStatus(m.Status),
		ProtocolID:       m.ProtocolID,
		ExpiresAt:        m.ExpiresAt,
		CreatedAt:        m.CreatedAt,
	}
	if m.TxHash != nil {
		e.TxHash = null.StringFrom(*m.TxHash)
	}
	if m.Fingerprint != nil {
		e.Fingerprint = null.StringFrom(*m.Fingerprint)
	}
	if m.CompletedAt != nil {
		e.CompletedAt = null.TimeFrom(*m.CompletedAt)
	}
	return e
}
