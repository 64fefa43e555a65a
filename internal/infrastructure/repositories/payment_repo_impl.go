package repositories

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	domainRepos "bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/models"
)

// PaymentRepository implements payment data operations
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create creates a new payment. The unique index on vulnerability_id makes a
// second settlement attempt for the same finding fail at the database.
func (r *PaymentRepository) Create(ctx context.Context, payment *entities.Payment) error {
	m := paymentToModel(payment)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	payment.ID = m.ID
	return nil
}

// GetByID gets a payment by ID
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	var m models.Payment
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return paymentToEntity(&m), nil
}

// GetByFindingID gets the payment for a finding
func (r *PaymentRepository) GetByFindingID(ctx context.Context, findingID uuid.UUID) (*entities.Payment, error) {
	var m models.Payment
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("vulnerability_id = ?", findingID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return paymentToEntity(&m), nil
}

// GetByOnChainBountyID gets the payment carrying a registry bounty id
func (r *PaymentRepository) GetByOnChainBountyID(ctx context.Context, bountyID int64) (*entities.Payment, error) {
	var m models.Payment
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("on_chain_bounty_id = ?", bountyID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return paymentToEntity(&m), nil
}

// List lists payments with filters and pagination
func (r *PaymentRepository) List(ctx context.Context, filters domainRepos.PaymentFilters, limit, offset int) ([]*entities.Payment, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.Payment{})
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.ResearcherAddress != "" {
		q = q.Where("LOWER(researcher_address) = LOWER(?)", filters.ResearcherAddress)
	}
	if filters.ProtocolID != nil {
		q = q.Where("protocol_id = ?", *filters.ProtocolID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Payment
	q = q.Order("queued_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, paymentToEntity(&rows[i]))
	}
	return out, int(total), nil
}

// UpdateStatus updates the payment status
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now()}).Error
}

// MarkProcessing moves a pending payment to PROCESSING and stamps processedAt
func (r *PaymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       string(entities.PaymentStatusProcessing),
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkCompleted records the settlement result
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, txHash string, bountyID int64, paidAt time.Time) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             string(entities.PaymentStatusCompleted),
			"tx_hash":            txHash,
			"on_chain_bounty_id": bountyID,
			"paid_at":            paidAt,
			"failure_reason":     nil,
			"updated_at":         time.Now(),
		}).Error
}

// MarkFailed records a settlement failure
func (r *PaymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         string(entities.PaymentStatusFailed),
			"failure_reason": reason,
			"updated_at":     time.Now(),
		}).Error
}

// IncrementRetry bumps the retry counter
func (r *PaymentRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

// MarkReconciled stamps reconciled and backfills txHash/paidAt from the
// observed event when the payment row was missing them.
func (r *PaymentRepository) MarkReconciled(ctx context.Context, id uuid.UUID, txHash string, paidAt time.Time) error {
	db := GetDB(ctx, r.db)

	var m models.Payment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrNotFound
		}
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"reconciled":    true,
		"reconciled_at": now,
		"updated_at":    now,
	}
	if txHash != "" && (m.TxHash == nil || *m.TxHash == "") {
		updates["tx_hash"] = txHash
	}
	if m.PaidAt == nil {
		updates["paid_at"] = paidAt
	}
	return db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

// AggregateEarningsByDay groups completed payments for one researcher into
// day buckets. Amount sums use big.Int because amounts are stored as integer
// strings in smallest units.
func (r *PaymentRepository) AggregateEarningsByDay(ctx context.Context, researcherAddress string, from, to time.Time) ([]*entities.EarningsBucket, error) {
	db := GetDB(ctx, r.db)
	var rows []models.Payment
	if err := db.WithContext(ctx).
		Where("LOWER(researcher_address) = LOWER(?) AND status = ? AND paid_at >= ? AND paid_at < ?",
			researcherAddress, entities.PaymentStatusCompleted, from, to).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type acc struct {
		total *big.Int
		count int
	}
	byDay := make(map[time.Time]*acc)
	for i := range rows {
		if rows[i].PaidAt == nil {
			continue
		}
		day := rows[i].PaidAt.UTC().Truncate(24 * time.Hour)
		amount, ok := new(big.Int).SetString(rows[i].Amount, 10)
		if !ok {
			continue
		}
		a, exists := byDay[day]
		if !exists {
			a = &acc{total: new(big.Int)}
			byDay[day] = a
		}
		a.total.Add(a.total, amount)
		a.count++
	}

	out := make([]*entities.EarningsBucket, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, &entities.EarningsBucket{Day: day, Total: a.total.String(), Count: a.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Leaderboard ranks researchers by completed earnings in the window
func (r *PaymentRepository) Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]*entities.LeaderboardEntry, error) {
	db := GetDB(ctx, r.db)
	var rows []models.Payment
	if err := db.WithContext(ctx).
		Where("status = ? AND paid_at >= ? AND paid_at < ?", entities.PaymentStatusCompleted, from, to).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type acc struct {
		total *big.Int
		count int
	}
	byAddr := make(map[string]*acc)
	for i := range rows {
		addr := normalizeAddress(rows[i].ResearcherAddress)
		amount, ok := new(big.Int).SetString(rows[i].Amount, 10)
		if !ok {
			continue
		}
		a, exists := byAddr[addr]
		if !exists {
			a = &acc{total: new(big.Int)}
			byAddr[addr] = a
		}
		a.total.Add(a.total, amount)
		a.count++
	}

	out := make([]*entities.LeaderboardEntry, 0, len(byAddr))
	for addr, a := range byAddr {
		out = append(out, &entities.LeaderboardEntry{ResearcherAddress: addr, Total: a.total.String(), Payments: a.count})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := new(big.Int).SetString(out[i].Total, 10)
		tj, _ := new(big.Int).SetString(out[j].Total, 10)
		if c := ti.Cmp(tj); c != 0 {
			return c > 0
		}
		return out[i].ResearcherAddress < out[j].ResearcherAddress
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListUnreconciledCompletedBefore feeds the unconfirmed-settlement sweeper
func (r *PaymentRepository) ListUnreconciledCompletedBefore(ctx context.Context, cutoff time.Time) ([]*entities.Payment, error) {
	db := GetDB(ctx, r.db)
	var rows []models.Payment
	if err := db.WithContext(ctx).
		Where("status = ? AND reconciled = ? AND paid_at < ?", entities.PaymentStatusCompleted, false, cutoff).
		Order("paid_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, paymentToEntity(&rows[i]))
	}
	return out, nil
}

// ListFailed lists failed payments, oldest first
func (r *PaymentRepository) ListFailed(ctx context.Context, limit int) ([]*entities.Payment, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).
		Where("status = ?", entities.PaymentStatusFailed).
		Order("queued_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Payment
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, paymentToEntity(&rows[i]))
	}
	return out, nil
}

func normalizeAddress(addr string) string {
	b := []byte(addr)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'F' {
			b[i] += 'a' - 'A'
		} else if b[i] == 'X' {
			b[i] = 'x'
		}
	}
	return string(b)
}

func paymentToModel(p *entities.Payment) *models.Payment {
	m := &models.Payment{
		ID:                p.ID,
		VulnerabilityID:   p.VulnerabilityID,
		ProtocolID:        p.ProtocolID,
		ValidationID:      p.ValidationID,
		ResearcherAddress: p.ResearcherAddress,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Severity:          string(p.Severity),
		Status:            string(p.Status),
		RetryCount:        p.RetryCount,
		Reconciled:        p.Reconciled,
		QueuedAt:          p.QueuedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.TxHash.Valid {
		v := p.TxHash.String
		m.TxHash = &v
	}
	if p.OnChainBountyID.Valid {
		v := p.OnChainBountyID.Int64
		m.OnChainBountyID = &v
	}
	if p.FailureReason.Valid {
		v := p.FailureReason.String
		m.FailureReason = &v
	}
	if p.ReconciledAt.Valid {
		v := p.ReconciledAt.Time
		m.ReconciledAt = &v
	}
	if p.ProcessedAt.Valid {
		v := p.ProcessedAt.Time
		m.ProcessedAt = &v
	}
	if p.PaidAt.Valid {
		v := p.PaidAt.Time
		m.PaidAt = &v
	}
	return m
}

func paymentToEntity(m *models.Payment) *entities.Payment {
	e := &entities.Payment{
		ID:                m.ID,
		VulnerabilityID:   m.VulnerabilityID,
		ProtocolID:        m.ProtocolID,
		ValidationID:      m.ValidationID,
		ResearcherAddress: m.ResearcherAddress,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Severity:          entities.Severity(m.Severity),
		Status:            entities.PaymentStatus(m.Status),
		RetryCount:        m.RetryCount,
		Reconciled:        m.Reconciled,
		QueuedAt:          m.QueuedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.TxHash != nil {
		e.TxHash = null.StringFrom(*m.TxHash)
	}
	if m.OnChainBountyID != nil {
		e.OnChainBountyID = null.Int64From(*m.OnChainBountyID)
	}
	if m.FailureReason != nil {
		e.FailureReason = null.StringFrom(*m.FailureReason)
	}
	if m.ReconciledAt != nil {
		e.ReconciledAt = null.TimeFrom(*m.ReconciledAt)
	}
	if m.ProcessedAt != nil {
		e.ProcessedAt = null.TimeFrom(*m.ProcessedAt)
	}
	if m.PaidAt != nil {
		e.PaidAt = null.TimeFrom(*m.PaidAt)
	}
	return e
}
