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

// AgentRepository implements agent identity and reputation data operations
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// CreateIdentity registers a new agent wallet
func (r *AgentRepository) CreateIdentity(ctx context.Context, agent *entities.AgentIdentity) error {
	m := agentToModel(agent)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	agent.ID = m.ID
	return nil
}

// GetByID gets an agent by ID
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.AgentIdentity, error) {
	var m models.AgentIdentity
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return agentToEntity(&m), nil
}

// GetByWallet gets an agent by wallet address, case-insensitively
func (r *AgentRepository) GetByWallet(ctx context.Context, walletAddress string) (*entities.AgentIdentity, error) {
	var m models.AgentIdentity
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("LOWER(wallet_address) = LOWER(?)", walletAddress).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return agentToEntity(&m), nil
}

// SetActive flips the agent's active flag
func (r *AgentRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.AgentIdentity{}).Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// GetReputation gets the reputation row for an agent
func (r *AgentRepository) GetReputation(ctx context.Context, agentID uuid.UUID) (*entities.AgentReputation, error) {
	var m models.AgentReputation
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("agent_identity_id = ?", agentID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.AgentReputation{
		AgentIdentityID:   m.AgentIdentityID,
		ConfirmedCount:    m.ConfirmedCount,
		RejectedCount:     m.RejectedCount,
		InconclusiveCount: m.InconclusiveCount,
		TotalSubmissions:  m.TotalSubmissions,
		Score:             m.Score,
		LastUpdated:       m.LastUpdated,
	}, nil
}

// UpsertReputation writes the full reputation row
func (r *AgentRepository) UpsertReputation(ctx context.Context, rep *entities.AgentReputation) error {
	db := GetDB(ctx, r.db)
	now := time.Now()
	updates := map[string]interface{}{
		"confirmed_count":    rep.ConfirmedCount,
		"rejected_count":     rep.RejectedCount,
		"inconclusive_count": rep.InconclusiveCount,
		"total_submissions":  rep.TotalSubmissions,
		"score":              rep.Score,
		"last_updated":       now,
	}
	res := db.WithContext(ctx).Model(&models.AgentReputation{}).
		Where("agent_identity_id = ?", rep.AgentIdentityID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&models.AgentReputation{
		AgentIdentityID:   rep.AgentIdentityID,
		ConfirmedCount:    rep.ConfirmedCount,
		RejectedCount:     rep.RejectedCount,
		InconclusiveCount: rep.InconclusiveCount,
		TotalSubmissions:  rep.TotalSubmissions,
		Score:             rep.Score,
		LastUpdated:       now,
	}).Error
}

// CreateFeedback records one validation judgement
func (r *AgentRepository) CreateFeedback(ctx context.Context, fb *entities.AgentFeedback) error {
	m := &models.AgentFeedback{
		ID:                fb.ID,
		ResearcherAgentID: fb.ResearcherAgentID,
		ValidatorAgentID:  fb.ValidatorAgentID,
		FeedbackType:      string(fb.FeedbackType),
		FindingID:         fb.FindingID,
		ValidationID:      fb.ValidationID,
		CreatedAt:         fb.CreatedAt,
	}
	if fb.OnChainFeedbackID.Valid {
		v := fb.OnChainFeedbackID.Int64
		m.OnChainFeedbackID = &v
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	fb.ID = m.ID
	return nil
}

// ListFeedbackByResearcher lists a researcher's received feedback
func (r *AgentRepository) ListFeedbackByResearcher(ctx context.Context, researcherAgentID uuid.UUID, limit, offset int) ([]*entities.AgentFeedback, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.AgentFeedback{}).
		Where("researcher_agent_id = ?", researcherAgentID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AgentFeedback
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.AgentFeedback, 0, len(rows))
	for i := range rows {
		e := &entities.AgentFeedback{
			ID:                rows[i].ID,
			ResearcherAgentID: rows[i].ResearcherAgentID,
			ValidatorAgentID:  rows[i].ValidatorAgentID,
			FeedbackType:      entities.FeedbackType(rows[i].FeedbackType),
			FindingID:         rows[i].FindingID,
			ValidationID:      rows[i].ValidationID,
			CreatedAt:         rows[i].CreatedAt,
		}
		if rows[i].OnChainFeedbackID != nil {
			e.OnChainFeedbackID = null.Int64From(*rows[i].OnChainFeedbackID)
		}
		out = append(out, e)
	}
	return out, int(total), nil
}

func agentToModel(a *entities.AgentIdentity) *models.AgentIdentity {
	m := &models.AgentIdentity{
		ID:            a.ID,
		WalletAddress: a.WalletAddress,
		AgentType:     string(a.AgentType),
		Active:        a.Active,
		RegisteredAt:  a.RegisteredAt,
	}
	if a.OnChainTokenID.Valid {
		v := a.OnChainTokenID.Int64
		m.OnChainTokenID = &v
	}
	return m
}

func agentToEntity(m *models.AgentIdentity) *entities.AgentIdentity {
	e := &entities.AgentIdentity{
		ID:            m.ID,
		WalletAddress: m.WalletAddress,
		AgentType:     entities.AgentType(m.AgentType),
		Active:        m.Active,
		RegisteredAt:  m.RegisteredAt,
	}
	if m.OnChainTokenID != nil {
		e.OnChainTokenID = null.Int64From(*m.OnChainTokenID)
	}
	return e
}
