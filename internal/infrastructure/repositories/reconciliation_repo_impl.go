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

// ReconciliationRepository implements payment reconciliation data operations
type ReconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Create records a detected discrepancy
func (r *ReconciliationRepository) Create(ctx context.Context, rec *entities.PaymentReconciliation) error {
	m := reconciliationToModel(rec)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	rec.ID = m.ID
	return nil
}

// GetByID gets a reconciliation record by ID
func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentReconciliation, error) {
	var m models.PaymentReconciliation
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return reconciliationToEntity(&m), nil
}

// List lists reconciliation records, optionally by status and discovery time
func (r *ReconciliationRepository) List(ctx context.Context, status entities.ReconciliationStatus, since *time.Time) ([]*entities.PaymentReconciliation, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.PaymentReconciliation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if since != nil {
		q = q.Where("discovered_at >= ?", *since)
	}
	var rows []models.PaymentReconciliation
	if err := q.Order("discovered_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.PaymentReconciliation, 0, len(rows))
	for i := range rows {
		out = append(out, reconciliationToEntity(&rows[i]))
	}
	return out, nil
}

// Resolve marks a discrepancy resolved with operator notes
func (r *ReconciliationRepository) Resolve(ctx context.Context, id uuid.UUID, notes string) error {
	now := time.Now()
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.PaymentReconciliation{}).
		Where("id = ? AND status != ?", id, entities.ReconciliationStatusResolved).
		Updates(map[string]interface{}{
			"status":      string(entities.ReconciliationStatusResolved),
			"resolved_at": now,
			"notes":       notes,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// ExistsForEvent dedups reconciliation rows by (txHash, logIndex)
func (r *ReconciliationRepository) ExistsForEvent(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	var count int64
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Model(&models.PaymentReconciliation{}).
		Where("tx_hash = ? AND log_index = ?", txHash, logIndex).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListenerStateRepository tracks event replay positions
type ListenerStateRepository struct {
	db *gorm.DB
}

// NewListenerStateRepository creates a new listener state repository
func NewListenerStateRepository(db *gorm.DB) *ListenerStateRepository {
	return &ListenerStateRepository{db: db}
}

// Get returns the replay position for (contract, eventName)
func (r *ListenerStateRepository) Get(ctx context.Context, contractAddress, eventName string) (*entities.EventListenerState, error) {
	var m models.EventListenerState
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("contract_address = ? AND event_name = ?", contractAddress, eventName).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.EventListenerState{
		ContractAddress:    m.ContractAddress,
		EventName:          m.EventName,
		LastProcessedBlock: m.LastProcessedBlock,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

// Upsert writes the replay position for (contract, eventName)
func (r *ListenerStateRepository) Upsert(ctx context.Context, state *entities.EventListenerState) error {
	db := GetDB(ctx, r.db)
	now := time.Now()
	res := db.WithContext(ctx).Model(&models.EventListenerState{}).
		Where("contract_address = ? AND event_name = ?", state.ContractAddress, state.EventName).
		Updates(map[string]interface{}{
			"last_processed_block": state.LastProcessedBlock,
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&models.EventListenerState{
		ContractAddress:    state.ContractAddress,
		EventName:          state.EventName,
		LastProcessedBlock: state.LastProcessedBlock,
		UpdatedAt:          now,
	}).Error
}

func reconciliationToModel(rec *entities.PaymentReconciliation) *models.PaymentReconciliation {
	m := &models.PaymentReconciliation{
		ID:              rec.ID,
		PaymentID:       rec.PaymentID,
		OnChainBountyID: rec.OnChainBountyID,
		TxHash:          rec.TxHash,
		LogIndex:        rec.LogIndex,
		Amount:          rec.Amount,
		Status:          string(rec.Status),
		DiscoveredAt:    rec.DiscoveredAt,
		Notes:           rec.Notes,
	}
	if rec.ResolvedAt.Valid {
		v := rec.ResolvedAt.Time
		m.ResolvedAt = &v
	}
	return m
}

func reconciliationToEntity(m *models.PaymentReconciliation) *entities.PaymentReconciliation {
	e := &entities.PaymentReconciliation{
		ID:              m.ID,
		PaymentID:       m.PaymentID,
		OnChainBountyID: m.OnChainBountyID,
		TxHash:          m.TxHash,
		LogIndex:        m.LogIndex,
		Amount:          m.Amount,
		Status:          entities.ReconciliationStatus(m.Status),
		DiscoveredAt:    m.DiscoveredAt,
		Notes:           m.Notes,
	}
	if m.ResolvedAt != nil {
		e.ResolvedAt = null.TimeFrom(*m.ResolvedAt)
	}
	return e
}
