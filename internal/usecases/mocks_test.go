package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/sandbox"
	"bounty-chain.backend/internal/infrastructure/toolchain"
)

// In-memory fakes shared by the usecase tests. They model just enough of the
// repository contracts for the pipelines to run end to end without a
// database, a chain or subprocesses.

func addAmount(a, b string) string {
	x, _ := new(big.Int).SetString(a, 10)
	y, _ := new(big.Int).SetString(b, 10)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return new(big.Int).Add(x, y).String()
}

func subAmount(a, b string) (string, bool) {
	x, _ := new(big.Int).SetString(a, 10)
	y, _ := new(big.Int).SetString(b, 10)
	if x == nil || y == nil || x.Cmp(y) < 0 {
		return a, false
	}
	return new(big.Int).Sub(x, y).String(), true
}

type memProtocols struct {
	rows map[uuid.UUID]*entities.Protocol
}

func newMemProtocols() *memProtocols { return &memProtocols{rows: map[uuid.UUID]*entities.Protocol{}} }

func (m *memProtocols) Create(_ context.Context, p *entities.Protocol) error {
	m.rows[p.ID] = p
	return nil
}

func (m *memProtocols) GetByID(_ context.Context, id uuid.UUID) (*entities.Protocol, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProtocols) GetBySourceURL(_ context.Context, sourceURL string) (*entities.Protocol, error) {
	for _, p := range m.rows {
		if p.SourceURL == sourceURL {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memProtocols) List(_ context.Context, status entities.ProtocolStatus, _, _ int) ([]*entities.Protocol, int, error) {
	var out []*entities.Protocol
	for _, p := range m.rows {
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memProtocols) UpdateStatus(_ context.Context, id uuid.UUID, status entities.ProtocolStatus) error {
	m.rows[id].Status = status
	return nil
}

func (m *memProtocols) SetOnChainID(_ context.Context, id uuid.UUID, onChainID int64) error {
	m.rows[id].OnChainID = null.Int64From(onChainID)
	return nil
}

func (m *memProtocols) SetRiskScore(_ context.Context, id uuid.UUID, score int) error {
	m.rows[id].RiskScore = null.IntFrom(score)
	return nil
}

func (m *memProtocols) SetError(_ context.Context, id uuid.UUID, message string) error {
	m.rows[id].ErrorMessage = null.StringFrom(message)
	return nil
}

func (m *memProtocols) DepositToPool(_ context.Context, id uuid.UUID, amount string) error {
	p := m.rows[id]
	p.TotalBountyPool = addAmount(p.TotalBountyPool, amount)
	p.AvailableBounty = addAmount(p.AvailableBounty, amount)
	return nil
}

func (m *memProtocols) TryDecrementAvailable(_ context.Context, id uuid.UUID, amount string) (bool, error) {
	p := m.rows[id]
	next, ok := subAmount(p.AvailableBounty, amount)
	if !ok {
		return false, nil
	}
	p.AvailableBounty = next
	return true, nil
}

func (m *memProtocols) CreditPaid(_ context.Context, id uuid.UUID, amount string) error {
	p := m.rows[id]
	p.PaidBounty = addAmount(p.PaidBounty, amount)
	return nil
}

func (m *memProtocols) RestoreAvailable(_ context.Context, id uuid.UUID, amount string) error {
	p := m.rows[id]
	p.AvailableBounty = addAmount(p.AvailableBounty, amount)
	return nil
}

type memScans struct {
	rows map[uuid.UUID]*entities.Scan
}

func newMemScans() *memScans { return &memScans{rows: map[uuid.UUID]*entities.Scan{}} }

func (m *memScans) Create(_ context.Context, s *entities.Scan) error {
	m.rows[s.ID] = s
	return nil
}

func (m *memScans) GetByID(_ context.Context, id uuid.UUID) (*entities.Scan, error) {
	s, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memScans) List(_ context.Context, filters repositories.ScanFilters, _, _ int) ([]*entities.Scan, int, error) {
	var out []*entities.Scan
	for _, s := range m.rows {
		if filters.State != "" && s.State != filters.State {
			continue
		}
		if filters.ProtocolID != nil && s.ProtocolID != *filters.ProtocolID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memScans) ListByProtocolWithCounts(_ context.Context, protocolID uuid.UUID) ([]*entities.ScanWithCounts, error) {
	var out []*entities.ScanWithCounts
	for _, s := range m.rows {
		if s.ProtocolID == protocolID {
			out = append(out, &entities.ScanWithCounts{Scan: *s})
		}
	}
	return out, nil
}

func (m *memScans) UpdateState(_ context.Context, id uuid.UUID, state entities.ScanState) error {
	m.rows[id].State = state
	return nil
}

func (m *memScans) SetStep(_ context.Context, id uuid.UUID, step string) error {
	m.rows[id].CurrentStep = step
	return nil
}

func (m *memScans) SetToolStatus(_ context.Context, id uuid.UUID, status entities.ToolStatus) error {
	m.rows[id].ToolStatus = status
	return nil
}

func (m *memScans) SetError(_ context.Context, id uuid.UUID, code, message string) error {
	m.rows[id].ErrorCode = null.StringFrom(code)
	m.rows[id].ErrorMessage = null.StringFrom(message)
	return nil
}

func (m *memScans) IncrementRetry(_ context.Context, id uuid.UUID) error {
	m.rows[id].RetryCount++
	return nil
}

func (m *memScans) SetTarget(_ context.Context, id uuid.UUID, branch, commit string) error {
	m.rows[id].TargetBranch = null.StringFrom(branch)
	m.rows[id].TargetCommit = null.StringFrom(commit)
	return nil
}

type memFindings struct {
	rows map[uuid.UUID]*entities.Finding
}

func newMemFindings() *memFindings { return &memFindings{rows: map[uuid.UUID]*entities.Finding{}} }

func (m *memFindings) Create(_ context.Context, f *entities.Finding) error {
	m.rows[f.ID] = f
	return nil
}

func (m *memFindings) GetByID(_ context.Context, id uuid.UUID) (*entities.Finding, error) {
	f, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFindings) ListByScan(_ context.Context, scanID uuid.UUID) ([]*entities.Finding, error) {
	var out []*entities.Finding
	for _, f := range m.rows {
		if f.ScanID == scanID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memFindings) UpdateStatus(_ context.Context, id uuid.UUID, status entities.FindingStatus, validatedAt *time.Time) error {
	f := m.rows[id]
	f.Status = status
	if validatedAt != nil {
		f.ValidatedAt = null.TimeFrom(*validatedAt)
	}
	return nil
}

type memProofs struct {
	rows map[uuid.UUID]*entities.Proof
}

func newMemProofs() *memProofs { return &memProofs{rows: map[uuid.UUID]*entities.Proof{}} }

func (m *memProofs) Create(_ context.Context, p *entities.Proof) error {
	m.rows[p.ID] = p
	return nil
}

func (m *memProofs) GetByID(_ context.Context, id uuid.UUID) (*entities.Proof, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProofs) ListByScan(_ context.Context, scanID uuid.UUID) ([]*entities.Proof, error) {
	var out []*entities.Proof
	for _, p := range m.rows {
		if p.ScanID == scanID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memProofs) UpdateStatus(_ context.Context, id uuid.UUID, status entities.ProofStatus) error {
	p := m.rows[id]
	if !p.Status.CanTransitionTo(status) {
		return domainerrors.ErrInvalidTransition
	}
	p.Status = status
	if status == entities.ProofStatusConfirmed || status == entities.ProofStatusRejected || status == entities.ProofStatusFailed {
		p.ValidatedAt = null.TimeFrom(time.Now())
	}
	return nil
}

func (m *memProofs) ResetToSubmitted(_ context.Context, id uuid.UUID) error {
	m.rows[id].Status = entities.ProofStatusSubmitted
	return nil
}

func (m *memProofs) SetOnChainResult(_ context.Context, id uuid.UUID, validationID int64, txHash string) error {
	m.rows[id].OnChainValidationID = null.Int64From(validationID)
	m.rows[id].OnChainTxHash = null.StringFrom(txHash)
	return nil
}

func (m *memProofs) FindStuck(_ context.Context, cutoff time.Time) ([]*entities.Proof, error) {
	var out []*entities.Proof
	for _, p := range m.rows {
		if (p.Status == entities.ProofStatusSubmitted || p.Status == entities.ProofStatusValidating) && p.SubmittedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memValidations struct {
	rows     map[uuid.UUID]*entities.Validation
	proofs   *memProofs
	findings *memFindings
}

func newMemValidations(proofs *memProofs, findings *memFindings) *memValidations {
	return &memValidations{rows: map[uuid.UUID]*entities.Validation{}, proofs: proofs, findings: findings}
}

func (m *memValidations) Create(_ context.Context, v *entities.Validation) error {
	m.rows[v.ID] = v
	return nil
}

func (m *memValidations) GetByID(_ context.Context, id uuid.UUID) (*entities.Validation, error) {
	v, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memValidations) GetByProofID(_ context.Context, proofID uuid.UUID) (*entities.Validation, error) {
	for _, v := range m.rows {
		if v.ProofID == proofID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memValidations) ListByProtocol(_ context.Context, protocolID uuid.UUID, _, _ int) ([]*entities.Validation, int, error) {
	var out []*entities.Validation
	for _, v := range m.rows {
		if v.ProtocolID == protocolID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memValidations) GetDetailByFinding(_ context.Context, findingID uuid.UUID) (*entities.ValidationDetail, error) {
	finding, ok := m.findings.rows[findingID]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	var proof *entities.Proof
	for _, p := range m.proofs.rows {
		if p.FindingID == findingID {
			proof = p
			break
		}
	}
	if proof == nil {
		return nil, domainerrors.ErrNotFound
	}
	detail := &entities.ValidationDetail{Proof: *proof, Finding: *finding}
	for _, v := range m.rows {
		if v.ProofID == proof.ID {
			detail.Validation = *v
			break
		}
	}
	return detail, nil
}

type memPayments struct {
	rows             map[uuid.UUID]*entities.Payment
	earningsCalls    int
	leaderboardCalls int
}

func newMemPayments() *memPayments { return &memPayments{rows: map[uuid.UUID]*entities.Payment{}} }

func (m *memPayments) Create(_ context.Context, p *entities.Payment) error {
	for _, existing := range m.rows {
		if existing.VulnerabilityID == p.VulnerabilityID {
			return fmt.Errorf("duplicate payment for finding %s", p.VulnerabilityID)
		}
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPayments) GetByID(_ context.Context, id uuid.UUID) (*entities.Payment, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) GetByFindingID(_ context.Context, findingID uuid.UUID) (*entities.Payment, error) {
	for _, p := range m.rows {
		if p.VulnerabilityID == findingID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memPayments) GetByOnChainBountyID(_ context.Context, bountyID int64) (*entities.Payment, error) {
	for _, p := range m.rows {
		if p.OnChainBountyID.Valid && p.OnChainBountyID.Int64 == bountyID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memPayments) List(_ context.Context, filters repositories.PaymentFilters, _, _ int) ([]*entities.Payment, int, error) {
	var out []*entities.Payment
	for _, p := range m.rows {
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memPayments) UpdateStatus(_ context.Context, id uuid.UUID, status entities.PaymentStatus) error {
	m.rows[id].Status = status
	return nil
}

func (m *memPayments) MarkProcessing(_ context.Context, id uuid.UUID) error {
	p := m.rows[id]
	p.Status = entities.PaymentStatusProcessing
	p.ProcessedAt = null.TimeFrom(time.Now())
	return nil
}

func (m *memPayments) MarkCompleted(_ context.Context, id uuid.UUID, txHash string, bountyID int64, paidAt time.Time) error {
	p := m.rows[id]
	p.Status = entities.PaymentStatusCompleted
	p.TxHash = null.StringFrom(txHash)
	p.OnChainBountyID = null.Int64From(bountyID)
	p.PaidAt = null.TimeFrom(paidAt)
	return nil
}

func (m *memPayments) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	p := m.rows[id]
	p.Status = entities.PaymentStatusFailed
	p.FailureReason = null.StringFrom(reason)
	return nil
}

func (m *memPayments) IncrementRetry(_ context.Context, id uuid.UUID) error {
	m.rows[id].RetryCount++
	return nil
}

func (m *memPayments) MarkReconciled(_ context.Context, id uuid.UUID, txHash string, paidAt time.Time) error {
	p := m.rows[id]
	p.Status = entities.PaymentStatusCompleted
	p.Reconciled = true
	p.ReconciledAt = null.TimeFrom(time.Now())
	if txHash != "" && !p.TxHash.Valid {
		p.TxHash = null.StringFrom(txHash)
	}
	if !p.PaidAt.Valid {
		p.PaidAt = null.TimeFrom(paidAt)
	}
	return nil
}

func (m *memPayments) AggregateEarningsByDay(_ context.Context, researcher string, _, _ time.Time) ([]*entities.EarningsBucket, error) {
	m.earningsCalls++
	total := "0"
	count := 0
	for _, p := range m.rows {
		if p.Status == entities.PaymentStatusCompleted && strings.EqualFold(p.ResearcherAddress, researcher) {
			total = addAmount(total, p.Amount)
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}
	return []*entities.EarningsBucket{{Day: time.Now().Truncate(24 * time.Hour), Total: total, Count: count}}, nil
}

func (m *memPayments) Leaderboard(_ context.Context, _, _ time.Time, limit int) ([]*entities.LeaderboardEntry, error) {
	m.leaderboardCalls++
	totals := map[string]*entities.LeaderboardEntry{}
	for _, p := range m.rows {
		if p.Status != entities.PaymentStatusCompleted {
			continue
		}
		e, ok := totals[p.ResearcherAddress]
		if !ok {
			e = &entities.LeaderboardEntry{ResearcherAddress: p.ResearcherAddress, Total: "0"}
			totals[p.ResearcherAddress] = e
		}
		e.Total = addAmount(e.Total, p.Amount)
		e.Payments++
	}
	var out []*entities.LeaderboardEntry
	for _, e := range totals {
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPayments) ListUnreconciledCompletedBefore(_ context.Context, cutoff time.Time) ([]*entities.Payment, error) {
	var out []*entities.Payment
	for _, p := range m.rows {
		if p.Status == entities.PaymentStatusCompleted && !p.Reconciled && p.PaidAt.Valid && p.PaidAt.Time.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPayments) ListFailed(_ context.Context, _ int) ([]*entities.Payment, error) {
	var out []*entities.Payment
	for _, p := range m.rows {
		if p.Status == entities.PaymentStatusFailed {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memAgents struct {
	rows     map[uuid.UUID]*entities.AgentIdentity
	reps     map[uuid.UUID]*entities.AgentReputation
	feedback []*entities.AgentFeedback
}

func newMemAgents() *memAgents {
	return &memAgents{rows: map[uuid.UUID]*entities.AgentIdentity{}, reps: map[uuid.UUID]*entities.AgentReputation{}}
}

func (m *memAgents) CreateIdentity(_ context.Context, a *entities.AgentIdentity) error {
	m.rows[a.ID] = a
	return nil
}

func (m *memAgents) GetByID(_ context.Context, id uuid.UUID) (*entities.AgentIdentity, error) {
	a, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAgents) GetByWallet(_ context.Context, wallet string) (*entities.AgentIdentity, error) {
	for _, a := range m.rows {
		if a.WalletAddress == wallet {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memAgents) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.rows[id].Active = active
	return nil
}

func (m *memAgents) GetReputation(_ context.Context, agentID uuid.UUID) (*entities.AgentReputation, error) {
	rep, ok := m.reps[agentID]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (m *memAgents) UpsertReputation(_ context.Context, rep *entities.AgentReputation) error {
	cp := *rep
	m.reps[rep.AgentIdentityID] = &cp
	return nil
}

func (m *memAgents) CreateFeedback(_ context.Context, fb *entities.AgentFeedback) error {
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *memAgents) ListFeedbackByResearcher(_ context.Context, researcherAgentID uuid.UUID, _, _ int) ([]*entities.AgentFeedback, int, error) {
	var out []*entities.AgentFeedback
	for _, fb := range m.feedback {
		if fb.ResearcherAgentID == researcherAgentID {
			out = append(out, fb)
		}
	}
	return out, len(out), nil
}

type memEscrow struct {
	rows map[uuid.UUID]*entities.Escrow
	txs  []*entities.EscrowTransaction
}

func newMemEscrow() *memEscrow { return &memEscrow{rows: map[uuid.UUID]*entities.Escrow{}} }

func (m *memEscrow) GetByAgent(_ context.Context, agentID uuid.UUID) (*entities.Escrow, error) {
	e, ok := m.rows[agentID]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEscrow) Deposit(_ context.Context, agentID uuid.UUID, amount, txHash string) error {
	e, ok := m.rows[agentID]
	if !ok {
		e = &entities.Escrow{AgentIdentityID: agentID, Balance: "0", TotalDeposited: "0", TotalDeducted: "0"}
		m.rows[agentID] = e
	}
	e.Balance = addAmount(e.Balance, amount)
	e.TotalDeposited = addAmount(e.TotalDeposited, amount)
	m.txs = append(m.txs, &entities.EscrowTransaction{
		ID: uuid.New(), EscrowID: agentID, Kind: entities.EscrowKindDeposit,
		Amount: amount, TxHash: null.StringFrom(txHash), CreatedAt: time.Now(),
	})
	return nil
}

func (m *memEscrow) Deduct(_ context.Context, agentID uuid.UUID, amount string) error {
	e, ok := m.rows[agentID]
	if !ok {
		return domainerrors.ErrInsufficientPool
	}
	next, covered := subAmount(e.Balance, amount)
	if !covered {
		return domainerrors.ErrInsufficientPool
	}
	e.Balance = next
	e.TotalDeducted = addAmount(e.TotalDeducted, amount)
	m.txs = append(m.txs, &entities.EscrowTransaction{
		ID: uuid.New(), EscrowID: agentID, Kind: entities.EscrowKindSubmissionFee,
		Amount: amount, CreatedAt: time.Now(),
	})
	return nil
}

func (m *memEscrow) ListTransactions(_ context.Context, agentID uuid.UUID, _, _ int) ([]*entities.EscrowTransaction, int, error) {
	var out []*entities.EscrowTransaction
	for _, tx := range m.txs {
		if tx.EscrowID == agentID {
			out = append(out, tx)
		}
	}
	return out, len(out), nil
}

type memFees struct {
	rows map[uuid.UUID]*entities.FeeRequest
}

func newMemFees() *memFees { return &memFees{rows: map[uuid.UUID]*entities.FeeRequest{}} }

func (m *memFees) Create(_ context.Context, req *entities.FeeRequest) error {
	m.rows[req.ID] = req
	return nil
}

func (m *memFees) GetByID(_ context.Context, id uuid.UUID) (*entities.FeeRequest, error) {
	req, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memFees) Complete(_ context.Context, id uuid.UUID, txHash string) error {
	req := m.rows[id]
	req.Status = entities.FeeStatusCompleted
	req.TxHash = null.StringFrom(txHash)
	req.CompletedAt = null.TimeFrom(time.Now())
	return nil
}

func (m *memFees) FindCompletedByFingerprintSince(_ context.Context, fingerprint string, since time.Time) (*entities.FeeRequest, error) {
	for _, req := range m.rows {
		if req.Status == entities.FeeStatusCompleted && req.Fingerprint.Valid &&
			req.Fingerprint.String == fingerprint && req.CompletedAt.Valid && req.CompletedAt.Time.After(since) {
			cp := *req
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memFees) GetExpiredPending(_ context.Context, _ int) ([]*entities.FeeRequest, error) {
	var out []*entities.FeeRequest
	for _, req := range m.rows {
		if req.Status == entities.FeeStatusPending && time.Now().After(req.ExpiresAt) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memFees) ExpireRequests(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		m.rows[id].Status = entities.FeeStatusExpired
	}
	return nil
}

type memRecons struct {
	rows map[uuid.UUID]*entities.PaymentReconciliation
}

func newMemRecons() *memRecons {
	return &memRecons{rows: map[uuid.UUID]*entities.PaymentReconciliation{}}
}

func (m *memRecons) Create(_ context.Context, rec *entities.PaymentReconciliation) error {
	m.rows[rec.ID] = rec
	return nil
}

func (m *memRecons) GetByID(_ context.Context, id uuid.UUID) (*entities.PaymentReconciliation, error) {
	rec, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecons) List(_ context.Context, status entities.ReconciliationStatus, since *time.Time) ([]*entities.PaymentReconciliation, error) {
	var out []*entities.PaymentReconciliation
	for _, rec := range m.rows {
		if status != "" && rec.Status != status {
			continue
		}
		if since != nil && rec.DiscoveredAt.Before(*since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRecons) Resolve(_ context.Context, id uuid.UUID, notes string) error {
	rec := m.rows[id]
	rec.Status = entities.ReconciliationStatusResolved
	rec.ResolvedAt = null.TimeFrom(time.Now())
	rec.Notes = notes
	return nil
}

func (m *memRecons) ExistsForEvent(_ context.Context, txHash string, logIndex uint) (bool, error) {
	for _, rec := range m.rows {
		if rec.TxHash == txHash && rec.LogIndex == logIndex {
			return true, nil
		}
	}
	return false, nil
}

type memListenerState struct {
	rows map[string]*entities.EventListenerState
}

func newMemListenerState() *memListenerState {
	return &memListenerState{rows: map[string]*entities.EventListenerState{}}
}

func (m *memListenerState) Get(_ context.Context, contractAddress, eventName string) (*entities.EventListenerState, error) {
	st, ok := m.rows[contractAddress+"/"+eventName]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *memListenerState) Upsert(_ context.Context, st *entities.EventListenerState) error {
	cp := *st
	m.rows[st.ContractAddress+"/"+st.EventName] = &cp
	return nil
}

type passUOW struct{}

func (passUOW) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// fakeChain implements ChainWriter and ChainReader with overridable hooks.
type fakeChain struct {
	registerProtocolFn func(ctx context.Context, githubURL, ownerAddress string) (int64, string, error)
	releaseBountyFn    func(ctx context.Context, protocolOnChainID, validationID int64, researcherAddress string, severity entities.Severity) (*blockchain.BountyRelease, error)
	calculateFn        func(ctx context.Context, protocolOnChainID int64, severity entities.Severity) (*big.Int, error)
	verifyTransferFn   func(ctx context.Context, txHash, expectedTo string, minAmount *big.Int) (bool, error)
	blockNumberFn      func(ctx context.Context) (uint64, error)
	filterFn           func(ctx context.Context, fromBlock, toBlock uint64) ([]entities.BountyReleasedEvent, error)

	recordedValidations []blockchain.RecordValidationInput
	recordedFeedback    []entities.FeedbackType
	registeredAgents    []string
}

func (f *fakeChain) RegisterProtocol(ctx context.Context, githubURL, ownerAddress string) (int64, string, error) {
	if f.registerProtocolFn != nil {
		return f.registerProtocolFn(ctx, githubURL, ownerAddress)
	}
	return 42, "0xreg", nil
}

func (f *fakeChain) IsGithubURLRegistered(context.Context, string) (bool, error) { return false, nil }

func (f *fakeChain) GetProtocolIDByGithubURL(context.Context, string) (int64, error) { return 42, nil }

func (f *fakeChain) DepositBounty(context.Context, int64, *big.Int) (string, error) {
	return "0xdeposit", nil
}

func (f *fakeChain) ReleaseBounty(ctx context.Context, protocolOnChainID, validationID int64, researcherAddress string, severity entities.Severity) (*blockchain.BountyRelease, error) {
	if f.releaseBountyFn != nil {
		return f.releaseBountyFn(ctx, protocolOnChainID, validationID, researcherAddress, severity)
	}
	return &blockchain.BountyRelease{BountyID: 7, Amount: big.NewInt(5_000_000), TxHash: "0xrelease"}, nil
}

func (f *fakeChain) CalculateBountyAmount(ctx context.Context, protocolOnChainID int64, severity entities.Severity) (*big.Int, error) {
	if f.calculateFn != nil {
		return f.calculateFn(ctx, protocolOnChainID, severity)
	}
	return big.NewInt(5_000_000), nil
}

func (f *fakeChain) GetBounty(context.Context, int64) (*blockchain.OnChainBounty, error) {
	return &blockchain.OnChainBounty{}, nil
}

func (f *fakeChain) RecordValidation(_ context.Context, in blockchain.RecordValidationInput) (int64, string, error) {
	f.recordedValidations = append(f.recordedValidations, in)
	return 99, "0xvalidation", nil
}

func (f *fakeChain) RegisterAgent(_ context.Context, walletAddress string, _ entities.AgentType) (int64, string, error) {
	f.registeredAgents = append(f.registeredAgents, walletAddress)
	return int64(len(f.registeredAgents)), "0xagent", nil
}

func (f *fakeChain) RecordFeedback(_ context.Context, _ string, feedback entities.FeedbackType) (int64, error) {
	f.recordedFeedback = append(f.recordedFeedback, feedback)
	return int64(len(f.recordedFeedback)), nil
}

func (f *fakeChain) DepositEscrowFor(context.Context, string, *big.Int) (string, error) {
	return "0xescrow", nil
}

func (f *fakeChain) VerifyTokenTransfer(ctx context.Context, txHash, expectedTo string, minAmount *big.Int) (bool, error) {
	if f.verifyTransferFn != nil {
		return f.verifyTransferFn(ctx, txHash, expectedTo, minAmount)
	}
	return true, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockNumberFn != nil {
		return f.blockNumberFn(ctx)
	}
	return 100, nil
}

func (f *fakeChain) FilterBountyReleased(ctx context.Context, fromBlock, toBlock uint64) ([]entities.BountyReleasedEvent, error) {
	if f.filterFn != nil {
		return f.filterFn(ctx, fromBlock, toBlock)
	}
	return nil, nil
}

// fakeTools returns a fixed artifact and a reentrancy finding unless a hook
// overrides it.
type fakeTools struct {
	cloneFn    func(ctx context.Context, jobID, sourceURL, ref string) (string, error)
	compileFn  func(ctx context.Context, dir, contractPath, contractName string) (*toolchain.CompileResult, error)
	analyzerFn func(ctx context.Context, dir, contractPath string) ([]toolchain.AnalyzerFinding, error)
	cleaned    []string
}

const fakeABI = `[{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[]},{"type":"function","name":"balance","stateMutability":"view","inputs":[]}]`

func (f *fakeTools) Clone(ctx context.Context, jobID, sourceURL, ref string) (string, error) {
	if f.cloneFn != nil {
		return f.cloneFn(ctx, jobID, sourceURL, ref)
	}
	return "/tmp/checkout/" + jobID, nil
}

func (f *fakeTools) InitSubmodules(context.Context, string) {}

func (f *fakeTools) Cleanup(dir string) { f.cleaned = append(f.cleaned, dir) }

func (f *fakeTools) Compile(ctx context.Context, dir, contractPath, contractName string) (*toolchain.CompileResult, error) {
	if f.compileFn != nil {
		return f.compileFn(ctx, dir, contractPath, contractName)
	}
	return &toolchain.CompileResult{Bytecode: "0x6080", ABI: json.RawMessage(fakeABI)}, nil
}

func (f *fakeTools) ContractFileExists(string, string) bool { return true }

func (f *fakeTools) RunStaticAnalyzer(ctx context.Context, dir, contractPath string) ([]toolchain.AnalyzerFinding, error) {
	if f.analyzerFn != nil {
		return f.analyzerFn(ctx, dir, contractPath)
	}
	return []toolchain.AnalyzerFinding{{
		Type: "REENTRANCY_ETH", Severity: entities.SeverityCritical,
		Confidence: 0.9, Description: "reentrant withdraw", Location: "src/Vault.sol",
	}}, nil
}

type fakeSandboxes struct {
	spawnFn   func(ctx context.Context) (SandboxHandle, error)
	lastSpawn *fakeHandle
}

func (f *fakeSandboxes) Spawn(ctx context.Context) (SandboxHandle, error) {
	if f.spawnFn != nil {
		return f.spawnFn(ctx)
	}
	f.lastSpawn = &fakeHandle{}
	return f.lastSpawn, nil
}

type fakeHandle struct {
	executeFn func(ctx context.Context, target common.Address, payload *entities.ExploitPayload) (*sandbox.ExploitResult, error)
	killed    int
}

func (f *fakeHandle) Deploy(context.Context, string) (common.Address, string, error) {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa"), "0xdeploy", nil
}

func (f *fakeHandle) ExecuteExploit(ctx context.Context, target common.Address, payload *entities.ExploitPayload) (*sandbox.ExploitResult, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, target, payload)
	}
	return &sandbox.ExploitResult{Validated: true, ExecutionLog: []string{"step 1 mined"}, TxHash: "0xexploit", GasUsed: 21000}, nil
}

func (f *fakeHandle) Kill() { f.killed++ }

type enqueuedJob struct {
	Queue   string
	JobID   string
	Payload interface{}
}

type fakeQueue struct {
	jobs []enqueuedJob
	seen map[string]bool
}

func (f *fakeQueue) Enqueue(_ context.Context, queueName, jobID string, payload interface{}, _ queue.EnqueueOptions) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := queueName + "/" + jobID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.jobs = append(f.jobs, enqueuedJob{Queue: queueName, JobID: jobID, Payload: payload})
	return true, nil
}

func (f *fakeQueue) byQueue(name string) []enqueuedJob {
	var out []enqueuedJob
	for _, j := range f.jobs {
		if j.Queue == name {
			out = append(out, j)
		}
	}
	return out
}

type busEvent struct {
	Topic    string
	Envelope bus.Envelope
}

type captureBus struct {
	events []busEvent
}

func (c *captureBus) Publish(_ context.Context, topic string, env bus.Envelope) error {
	c.events = append(c.events, busEvent{Topic: topic, Envelope: env})
	return nil
}

func (c *captureBus) eventTypes(topic string) []string {
	var out []string
	for _, e := range c.events {
		if e.Topic == topic {
			out = append(out, e.Envelope.EventType)
		}
	}
	return out
}

// plainCipher passes payloads through; tests assert on plaintext bodies.
type plainCipher struct{}

func (plainCipher) Encrypt(_ string, plaintext []byte) (string, error) { return string(plaintext), nil }

func (plainCipher) Decrypt(_ string, payload string) ([]byte, error) { return []byte(payload), nil }

func makeJob(queueName, jobID string, payload interface{}) *queue.Job {
	body, _ := json.Marshal(payload)
	return &queue.Job{ID: jobID, Queue: queueName, Payload: body, Attempt: 1, MaxAttempts: 3, EnqueuedAt: time.Now()}
}

// testEnv wires every fake together the way cmd/worker wires the real
// implementations.
type testEnv struct {
	protocols *memProtocols
	scans     *memScans
	findings  *memFindings
	proofs    *memProofs
	valids    *memValidations
	payments  *memPayments
	agents    *memAgents
	escrow    *memEscrow
	fees      *memFees
	recons    *memRecons
	state     *memListenerState

	chain     *fakeChain
	tools     *fakeTools
	sandboxes *fakeSandboxes
	queue     *fakeQueue
	bus       *captureBus
}

const (
	testResearcherWallet = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testValidatorWallet  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func newTestEnv() *testEnv {
	proofs := newMemProofs()
	findings := newMemFindings()
	return &testEnv{
		protocols: newMemProtocols(),
		scans:     newMemScans(),
		findings:  findings,
		proofs:    proofs,
		valids:    newMemValidations(proofs, findings),
		payments:  newMemPayments(),
		agents:    newMemAgents(),
		escrow:    newMemEscrow(),
		fees:      newMemFees(),
		recons:    newMemRecons(),
		state:     newMemListenerState(),
		chain:     &fakeChain{},
		tools:     &fakeTools{},
		sandboxes: &fakeSandboxes{},
		queue:     &fakeQueue{},
		bus:       &captureBus{},
	}
}

func (e *testEnv) seedProtocol(status entities.ProtocolStatus, onChain bool) *entities.Protocol {
	p := &entities.Protocol{
		ID:              uuid.New(),
		OwnerAddress:    testResearcherWallet,
		SourceURL:       "https://github.com/example/vault",
		Branch:          "main",
		ContractPath:    "src/Vault.sol",
		ContractName:    "Vault",
		Status:          status,
		TotalBountyPool: "0",
		AvailableBounty: "0",
		PaidBounty:      "0",
		CreatedAt:       time.Now(),
	}
	if onChain {
		p.OnChainID = null.Int64From(42)
	}
	e.protocols.rows[p.ID] = p
	return p
}

func (e *testEnv) seedScan(protocolID uuid.UUID, state entities.ScanState) *entities.Scan {
	s := &entities.Scan{
		ID:         uuid.New(),
		ProtocolID: protocolID,
		State:      state,
		CreatedAt:  time.Now(),
	}
	e.scans.rows[s.ID] = s
	return s
}

func (e *testEnv) seedAgents() (*entities.AgentIdentity, *entities.AgentIdentity) {
	researcher := &entities.AgentIdentity{
		ID: uuid.New(), WalletAddress: testResearcherWallet,
		AgentType: entities.AgentTypeResearcher, Active: true, RegisteredAt: time.Now(),
	}
	validator := &entities.AgentIdentity{
		ID: uuid.New(), WalletAddress: testValidatorWallet,
		AgentType: entities.AgentTypeValidator, Active: true, RegisteredAt: time.Now(),
	}
	e.agents.rows[researcher.ID] = researcher
	e.agents.rows[validator.ID] = validator
	return researcher, validator
}
