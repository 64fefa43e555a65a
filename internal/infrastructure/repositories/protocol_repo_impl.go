package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/models"
)

// ProtocolRepository implements protocol data operations
type ProtocolRepository struct {
	db *gorm.DB
}

// NewProtocolRepository creates a new protocol repository
func NewProtocolRepository(db *gorm.DB) *ProtocolRepository {
	return &ProtocolRepository{db: db}
}

// Create creates a new protocol
func (r *ProtocolRepository) Create(ctx context.Context, protocol *entities.Protocol) error {
	m := protocolToModel(protocol)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	protocol.ID = m.ID
	return nil
}

// GetByID gets a protocol by ID
func (r *ProtocolRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Protocol, error) {
	var m models.Protocol
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return protocolToEntity(&m), nil
}

// GetBySourceURL gets a protocol by its source repository URL
func (r *ProtocolRepository) GetBySourceURL(ctx context.Context, sourceURL string) (*entities.Protocol, error) {
	var m models.Protocol
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return protocolToEntity(&m), nil
}

// List lists protocols with optional status filter and pagination
func (r *ProtocolRepository) List(ctx context.Context, status entities.ProtocolStatus, limit, offset int) ([]*entities.Protocol, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.Protocol{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Protocol
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.Protocol, 0, len(rows))
	for i := range rows {
		out = append(out, protocolToEntity(&rows[i]))
	}
	return out, int(total), nil
}

// UpdateStatus updates the protocol lifecycle status
func (r *ProtocolRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.ProtocolStatus) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Protocol{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now()}).Error
}

// SetOnChainID records the registry id returned by the on-chain registration
func (r *ProtocolRepository) SetOnChainID(ctx context.Context, id uuid.UUID, onChainID int64) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Protocol{}).Where("id = ?", id).
		Updates(map[string]interface{}{"on_chain_id": onChainID, "updated_at": time.Now()}).Error
}

// SetRiskScore records the computed risk score
func (r *ProtocolRepository) SetRiskScore(ctx context.Context, id uuid.UUID, score int) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Protocol{}).Where("id = ?", id).
		Updates(map[string]interface{}{"risk_score": score, "updated_at": time.Now()}).Error
}

// SetError captures a pipeline failure message
func (r *ProtocolRepository) SetError(ctx context.Context, id uuid.UUID, message string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Protocol{}).Where("id = ?", id).
		Updates(map[string]interface{}{"error_message": message, "updated_at": time.Now()}).Error
}

// DepositToPool adds amount (smallest units) to both total and available
func (r *ProtocolRepository) DepositToPool(ctx context.Context, id uuid.UUID, amount string) error {
	add, ok := new(big.Int).SetString(amount, 10)
	if !ok || add.Sign() < 0 {
		return domainerrors.BadRequest(fmt.Sprintf("invalid deposit amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	for attempt := 0; attempt < 3; attempt++ {
		var m models.Protocol
		if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrNotFound
			}
			return err
		}

		total, avail, err := parseAmounts(m.TotalBountyPool, m.AvailableBounty)
		if err != nil {
			return err
		}
		newTotal := new(big.Int).Add(total, add).String()
		newAvail := new(big.Int).Add(avail, add).String()

		res := db.WithContext(ctx).Model(&models.Protocol{}).
			Where("id = ? AND total_bounty_pool = ? AND available_bounty = ?", id, m.TotalBountyPool, m.AvailableBounty).
			Updates(map[string]interface{}{
				"total_bounty_pool": newTotal,
				"available_bounty":  newAvail,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return fmt.Errorf("deposit to pool: concurrent update conflict")
}

// TryDecrementAvailable performs a compare-and-set decrement of the available
// bounty. Returns false when the observed balance no longer covers amount.
func (r *ProtocolRepository) TryDecrementAvailable(ctx context.Context, id uuid.UUID, amount string) (bool, error) {
	sub, ok := new(big.Int).SetString(amount, 10)
	if !ok || sub.Sign() < 0 {
		return false, domainerrors.BadRequest(fmt.Sprintf("invalid decrement amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	for attempt := 0; attempt < 3; attempt++ {
		var m models.Protocol
		if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, domainerrors.ErrNotFound
			}
			return false, err
		}

		avail, okParse := new(big.Int).SetString(m.AvailableBounty, 10)
		if !okParse {
			return false, fmt.Errorf("corrupt available bounty %q", m.AvailableBounty)
		}
		if avail.Cmp(sub) < 0 {
			return false, nil
		}

		res := db.WithContext(ctx).Model(&models.Protocol{}).
			Where("id = ? AND available_bounty = ?", id, m.AvailableBounty).
			Updates(map[string]interface{}{
				"available_bounty": new(big.Int).Sub(avail, sub).String(),
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			return true, nil
		}
	}
	return false, fmt.Errorf("decrement available bounty: concurrent update conflict")
}

// CreditPaid moves amount into the paid tally
func (r *ProtocolRepository) CreditPaid(ctx context.Context, id uuid.UUID, amount string) error {
	add, ok := new(big.Int).SetString(amount, 10)
	if !ok || add.Sign() < 0 {
		return domainerrors.BadRequest(fmt.Sprintf("invalid paid amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	for attempt := 0; attempt < 3; attempt++ {
		var m models.Protocol
		if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
			return err
		}
		paid, okParse := new(big.Int).SetString(m.PaidBounty, 10)
		if !okParse {
			return fmt.Errorf("corrupt paid bounty %q", m.PaidBounty)
		}
		res := db.WithContext(ctx).Model(&models.Protocol{}).
			Where("id = ? AND paid_bounty = ?", id, m.PaidBounty).
			Updates(map[string]interface{}{
				"paid_bounty": new(big.Int).Add(paid, add).String(),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return fmt.Errorf("credit paid bounty: concurrent update conflict")
}

// RestoreAvailable returns amount to the available pool after a failed
// settlement
func (r *ProtocolRepository) RestoreAvailable(ctx context.Context, id uuid.UUID, amount string) error {
	add, ok := new(big.Int).SetString(amount, 10)
	if !ok || add.Sign() < 0 {
		return domainerrors.BadRequest(fmt.Sprintf("invalid restore amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	for attempt := 0; attempt < 3; attempt++ {
		var m models.Protocol
		if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
			return err
		}
		avail, okParse := new(big.Int).SetString(m.AvailableBounty, 10)
		if !okParse {
			return fmt.Errorf("corrupt available bounty %q", m.AvailableBounty)
		}
		res := db.WithContext(ctx).Model(&models.Protocol{}).
			Where("id = ? AND available_bounty = ?", id, m.AvailableBounty).
			Updates(map[string]interface{}{
				"available_bounty": new(big.Int).Add(avail, add).String(),
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return fmt.Errorf("restore available bounty: concurrent update conflict")
}

func parseAmounts(total, avail string) (*big.Int, *big.Int, error) {
	t, ok := new(big.Int).SetString(total, 10)
	if !ok {
		return nil, nil, fmt.Errorf("corrupt total bounty pool %q", total)
	}
	a, ok := new(big.Int).SetString(avail, 10)
	if !ok {
		return nil, nil, fmt.Errorf("corrupt available bounty %q", avail)
	}
	return t, a, nil
}

func protocolToModel(p *entities.Protocol) *models.Protocol {
	m := &models.Protocol{
		ID:              p.ID,
		OwnerID:         p.OwnerID,
		OwnerAddress:    p.OwnerAddress,
		SourceURL:       p.SourceURL,
		Branch:          p.Branch,
		ContractPath:    p.ContractPath,
		ContractName:    p.ContractName,
		Status:          string(p.Status),
		TotalBountyPool: p.TotalBountyPool,
		AvailableBounty: p.AvailableBounty,
		PaidBounty:      p.PaidBounty,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.OnChainID.Valid {
		v := p.OnChainID.Int64
		m.OnChainID = &v
	}
	if p.RiskScore.Valid {
		v := p.RiskScore.Int
		m.RiskScore = &v
	}
	if p.ErrorMessage.Valid {
		v := p.ErrorMessage.String
		m.ErrorMessage = &v
	}
	if m.TotalBountyPool == "" {
		m.TotalBountyPool = "0"
	}
	if m.AvailableBounty == "" {
		m.AvailableBounty = "0"
	}
	if m.PaidBounty == "" {
		m.PaidBounty = "0"
	}
	return m
}

func protocolToEntity(m *models.Protocol) *entities.Protocol {
	e := &entities.Protocol{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		OwnerAddress:    m.OwnerAddress,
		SourceURL:       m.SourceURL,
		Branch:          m.Branch,
		ContractPath:    m.ContractPath,
		ContractName:    m.ContractName,
		Status:          entities.ProtocolStatus(m.Status),
		TotalBountyPool: m.TotalBountyPool,
		AvailableBounty: m.AvailableBounty,
		PaidBounty:      m.PaidBounty,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.OnChainID != nil {
		e.OnChainID = null.Int64From(*m.OnChainID)
	}
	if m.RiskScore != nil {
		e.RiskScore = null.IntFrom(*m.RiskScore)
	}
	if m.ErrorMessage != nil {
		e.ErrorMessage = null.StringFrom(*m.ErrorMessage)
	}
	return e
}
