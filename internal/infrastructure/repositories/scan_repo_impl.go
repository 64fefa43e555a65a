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
	domainRepos "bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/models"
)

// ScanRepository implements scan data operations
type ScanRepository struct {
	db *gorm.DB
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create creates a new scan
func (r *ScanRepository) Create(ctx context.Context, scan *entities.Scan) error {
	m := scanToModel(scan)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	scan.ID = m.ID
	return nil
}

// GetByID gets a scan by ID
func (r *ScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Scan, error) {
	var m models.Scan
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return scanToEntity(&m), nil
}

// List lists scans with filters and pagination
func (r *ScanRepository) List(ctx context.Context, filters domainRepos.ScanFilters, limit, offset int) ([]*entities.Scan, int, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.Scan{})
	if filters.ProtocolID != nil {
		q = q.Where("protocol_id = ?", *filters.ProtocolID)
	}
	if filters.State != "" {
		q = q.Where("state = ?", filters.State)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Scan
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*entities.Scan, 0, len(rows))
	for i := range rows {
		out = append(out, scanToEntity(&rows[i]))
	}
	return out, int(total), nil
}

// ListByProtocolWithCounts lists a protocol's scans joined with finding tallies
func (r *ScanRepository) ListByProtocolWithCounts(ctx context.Context, protocolID uuid.UUID) ([]*entities.ScanWithCounts, error) {
	db := GetDB(ctx, r.db)
	var rows []models.Scan
	if err := db.WithContext(ctx).
		Where("protocol_id = ?", protocolID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*entities.ScanWithCounts, 0, len(rows))
	for i := range rows {
		item := &entities.ScanWithCounts{Scan: *scanToEntity(&rows[i])}

		type countRow struct {
			Total     int
			Confirmed int
		}
		var c countRow
		err := db.WithContext(ctx).Model(&models.Finding{}).
			Select("COUNT(*) AS total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed", entities.FindingStatusConfirmed).
			Where("scan_id = ?", rows[i].ID).
			Scan(&c).Error
		if err != nil {
			return nil, err
		}
		item.FindingCount = c.Total
		item.ConfirmedCount = c.Confirmed
		out = append(out, item)
	}
	return out, nil
}

// UpdateState persists a state transition. startedAt is stamped on RUNNING and
// completedAt on any terminal state.
func (r *ScanRepository) UpdateState(ctx context.Context, id uuid.UUID, state entities.ScanState) error {
	now := time.Now()
	updates := map[string]interface{}{"state": string(state), "updated_at": now}
	switch state {
	case entities.ScanStateRunning:
		updates["started_at"] = now
	case entities.ScanStateSucceeded, entities.ScanStateFailed, entities.ScanStateCanceled:
		updates["completed_at"] = now
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).Updates(updates).Error
}

// SetStep records the currently executing pipeline step
func (r *ScanRepository) SetStep(ctx context.Context, id uuid.UUID, step string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).
		Updates(map[string]interface{}{"current_step": step, "updated_at": time.Now()}).Error
}

// SetToolStatus records whether the static analyzer was usable
func (r *ScanRepository) SetToolStatus(ctx context.Context, id uuid.UUID, status entities.ToolStatus) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).
		Updates(map[string]interface{}{"tool_status": string(status), "updated_at": time.Now()}).Error
}

// SetError captures a failure code and message
func (r *ScanRepository) SetError(ctx context.Context, id uuid.UUID, code, message string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).
		Updates(map[string]interface{}{"error_code": code, "error_message": message, "updated_at": time.Now()}).Error
}

// IncrementRetry bumps the retry counter
func (r *ScanRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

// SetTarget records the branch and commit the scan resolved to after clone
func (r *ScanRepository) SetTarget(ctx context.Context, id uuid.UUID, branch, commit string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).
		Updates(map[string]interface{}{"target_branch": branch, "target_commit": commit, "updated_at": time.Now()}).Error
}

func scanToModel(s *entities.Scan) *models.Scan {
	m := &models.Scan{
		ID:          s.ID,
		ProtocolID:  s.ProtocolID,
		State:       string(s.State),
		CurrentStep: s.CurrentStep,
		ToolStatus:  string(s.ToolStatus),
		RetryCount:  s.RetryCount,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.TargetBranch.Valid {
		v := s.TargetBranch.String
		m.TargetBranch = &v
	}
	if s.TargetCommit.Valid {
		v := s.TargetCommit.String
		m.TargetCommit = &v
	}
	if s.StartedAt.Valid {
		v := s.StartedAt.Time
		m.StartedAt = &v
	}
	if s.CompletedAt.Valid {
		v := s.CompletedAt.Time
		m.CompletedAt = &v
	}
	if s.ErrorCode.Valid {
		v := s.ErrorCode.String
		m.ErrorCode = &v
	}
	if s.ErrorMessage.Valid {
		v := s.ErrorMessage.String
		m.ErrorMessage = &v
	}
	return m
}

func scanToEntity(m *models.Scan) *entities.Scan {
	e := &entities.Scan{
		ID:          m.ID,
		ProtocolID:  m.ProtocolID,
		State:       entities.ScanState(m.State),
		CurrentStep: m.CurrentStep,
		ToolStatus:  entities.ToolStatus(m.ToolStatus),
		RetryCount:  m.RetryCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.TargetBranch != nil {
		e.TargetBranch = null.StringFrom(*m.TargetBranch)
	}
	if m.TargetCommit != nil {
		e.TargetCommit = null.StringFrom(*m.TargetCommit)
	}
	if m.StartedAt != nil {
		e.StartedAt = null.TimeFrom(*m.StartedAt)
	}
	if m.CompletedAt != nil {
		e.CompletedAt = null.TimeFrom(*m.CompletedAt)
	}
	if m.ErrorCode != nil {
		e.ErrorCode = null.StringFrom(*m.ErrorCode)
	}
	if m.ErrorMessage != nil {
		e.ErrorMessage = null.StringFrom(*m.ErrorMessage)
	}
	return e
}
