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

// EscrowRepository implements escrow ledger operations
type EscrowRepository struct {
	db *gorm.DB
}

// NewEscrowRepository creates a new escrow repository
func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// GetByAgent gets the escrow account for an agent
func (r *EscrowRepository) GetByAgent(ctx context.Context, agentID uuid.UUID) (*entities.Escrow, error) {
	var m models.Escrow
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("agent_identity_id = ?", agentID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return escrowToEntity(&m), nil
}

// Deposit credits the balance and records a DEPOSIT transaction. The escrow
// row is created on first deposit.
func (r *EscrowRepository) Deposit(ctx context.Context, agentID uuid.UUID, amount, txHash string) error {
	add, ok := new(big.Int).SetString(amount, 10)
	if !ok || add.Sign() <= 0 {
		return domainerrors.BadRequest(fmt.Sprintf("invalid deposit amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	now := time.Now()

	var m models.Escrow
	err := db.WithContext(ctx).Where("agent_identity_id = ?", agentID).First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.Escrow{
			AgentIdentityID: agentID,
			Balance:         add.String(),
			TotalDeposited:  add.String(),
			TotalDeducted:   "0",
			UpdatedAt:       now,
		}
		if err := db.WithContext(ctx).Create(&m).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		balance, deposited, parseErr := parseEscrowAmounts(m.Balance, m.TotalDeposited)
		if parseErr != nil {
			return parseErr
		}
		res := db.WithContext(ctx).Model(&models.Escrow{}).
			Where("agent_identity_id = ? AND balance = ?", agentID, m.Balance).
			Updates(map[string]interface{}{
				"balance":         new(big.Int).Add(balance, add).String(),
				"total_deposited": new(big.Int).Add(deposited, add).String(),
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("escrow deposit: concurrent update conflict")
		}
	}

	tx := &models.EscrowTransaction{
		ID:        uuid.New(),
		EscrowID:  agentID,
		Kind:      string(entities.EscrowKindDeposit),
		Amount:    add.String(),
		CreatedAt: now,
	}
	if txHash != "" {
		tx.TxHash = &txHash
	}
	return db.WithContext(ctx).Create(tx).Error
}

// Deduct debits a submission fee. Fails with ErrInsufficientPool when the
// balance does not cover the amount.
func (r *EscrowRepository) Deduct(ctx context.Context, agentID uuid.UUID, amount string) error {
	sub, ok := new(big.Int).SetString(amount, 10)
	if !ok || sub.Sign() <= 0 {
		return domainerrors.BadRequest(fmt.Sprintf("invalid deduct amount %q", amount))
	}

	db := GetDB(ctx, r.db)
	now := time.Now()

	var m models.Escrow
	if err := db.WithContext(ctx).Where("agent_identity_id = ?", agentID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrInsufficientPool
		}
		return err
	}

	balance, okParse := new(big.Int).SetString(m.Balance, 10)
	if !okParse {
		return fmt.Errorf("corrupt escrow balance %q", m.Balance)
	}
	if balance.Cmp(sub) < 0 {
		return domainerrors.ErrInsufficientPool
	}
	deducted, okParse := new(big.Int).SetString(m.TotalDeducted, 10)
	if !okParse {
		return fmt.Errorf("corrupt escrow total deducted %q", m.TotalDeducted)
	}

	res := db.WithContext(ctx).Model(&models.Escrow{}).
		Where("agent_identity_id = ? AND balance = ?", agentID, m.Balance).
		Updates(map[string]interface{}{
			"balance":        new(big.Int).Sub(balance, sub).String(),
			"total_deducted": new(big.Int).Add(deducted, sub).String(),
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("escrow deduct: concurrent update conflict")
	}

	return db.WithContext(ctx).Create(&models.EscrowTransaction{
		ID:        uuid.New(),
		EscrowID:  agentID,
		Kind:      string(entities.EscrowKindSubmissionFee),
		Amount:    sub.String(),
		CreatedAt: now,
	}).Error
}

// ListTransactions lists the escrow ledger for an agent
func (r *EscrowRepository) ListTransactions(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*entities.EscrowTransaction, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.EscrowTransaction{}).Where("escrow_id = ?", agentID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.EscrowTransaction
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.EscrowTransaction, 0, len(rows))
	for i := range rows {
		e := &entities.EscrowTransaction{
			ID:        rows[i].ID,
			EscrowID:  rows[i].EscrowID,
			Kind:      entities.EscrowTransactionKind(rows[i].Kind),
			Amount:    rows[i].Amount,
			CreatedAt: rows[i].CreatedAt,
		}
		if rows[i].TxHash != nil {
			e.TxHash = null.StringFrom(*rows[i].TxHash)
		}
		out = append(out, e)
	}
	return out, int(total), nil
}

func parseEscrowAmounts(balance, deposited string) (*big.Int, *big.Int, error) {
	b, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, nil, fmt.Errorf("corrupt escrow balance %q", balance)
	}
	d, ok := new(big.Int).SetString(deposited, 10)
	if !ok {
		return nil, nil, fmt.Errorf("corrupt escrow total deposited %q", deposited)
	}
	return b, d, nil
}

func escrowToEntity(m *models.Escrow) *entities.Escrow {
	return &entities.Escrow{
		AgentIdentityID: m.AgentIdentityID,
		Balance:         m.Balance,
		TotalDeposited:  m.TotalDeposited,
		TotalDeducted:   m.TotalDeducted,
		UpdatedAt:       m.UpdatedAt,
	}
}
