package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createProtocolTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE protocols (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		owner_address TEXT NOT NULL,
		source_url TEXT NOT NULL UNIQUE,
		branch TEXT NOT NULL,
		contract_path TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		status TEXT NOT NULL,
		on_chain_id INTEGER,
		total_bounty_pool TEXT NOT NULL DEFAULT '0',
		available_bounty TEXT NOT NULL DEFAULT '0',
		paid_bounty TEXT NOT NULL DEFAULT '0',
		risk_score INTEGER,
		error_message TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createScanTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE scans (
		id TEXT PRIMARY KEY,
		protocol_id TEXT NOT NULL,
		state TEXT NOT NULL,
		current_step TEXT,
		target_branch TEXT,
		target_commit TEXT,
		tool_status TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		error_code TEXT,
		error_message TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createFindingTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE findings (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL,
		vulnerability_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line_number INTEGER,
		description TEXT NOT NULL,
		confidence REAL NOT NULL,
		analysis_method TEXT NOT NULL,
		ai_confidence REAL,
		status TEXT NOT NULL,
		validated_at DATETIME,
		code_snippet TEXT,
		remediation_suggestion TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createProofTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE proofs (
		id TEXT PRIMARY KEY,
		finding_id TEXT NOT NULL,
		scan_id TEXT NOT NULL,
		encrypted_payload TEXT NOT NULL,
		encryption_key_id TEXT NOT NULL,
		researcher_signature TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		validated_at DATETIME,
		on_chain_validation_id INTEGER,
		on_chain_tx_hash TEXT,
		updated_at DATETIME
	);`)
}

func createValidationTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE validations (
		id TEXT PRIMARY KEY,
		proof_id TEXT NOT NULL,
		scan_id TEXT NOT NULL,
		protocol_id TEXT NOT NULL,
		validator_agent_id TEXT NOT NULL,
		result TEXT NOT NULL,
		execution_log TEXT,
		state_changes TEXT,
		transaction_hash TEXT,
		gas_used INTEGER,
		failure_reason TEXT,
		created_at DATETIME
	);`)
}

func createPaymentTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		vulnerability_id TEXT NOT NULL UNIQUE,
		protocol_id TEXT NOT NULL,
		validation_id TEXT NOT NULL,
		researcher_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		on_chain_bounty_id INTEGER,
		failure_reason TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		reconciled INTEGER NOT NULL DEFAULT 0,
		reconciled_at DATETIME,
		queued_at DATETIME NOT NULL,
		processed_at DATETIME,
		paid_at DATETIME,
		updated_at DATETIME
	);`)
}

func createReconciliationTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE payment_reconciliations (
		id TEXT PRIMARY KEY,
		payment_id TEXT,
		on_chain_bounty_id INTEGER NOT NULL,
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		discovered_at DATETIME NOT NULL,
		resolved_at DATETIME,
		notes TEXT
	);`)
}

func createListenerStateTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE event_listener_states (
		contract_address TEXT NOT NULL,
		event_name TEXT NOT NULL,
		last_processed_block INTEGER NOT NULL,
		updated_at DATETIME,
		PRIMARY KEY (contract_address, event_name)
	);`)
}

func createAgentTables(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE agent_identities (
		id TEXT PRIMARY KEY,
		wallet_address TEXT NOT NULL UNIQUE,
		agent_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		on_chain_token_id INTEGER,
		registered_at DATETIME NOT NULL
	);`)
	mustExec(t, db, `CREATE TABLE agent_reputations (
		agent_identity_id TEXT PRIMARY KEY,
		confirmed_count INTEGER NOT NULL DEFAULT 0,
		rejected_count INTEGER NOT NULL DEFAULT 0,
		inconclusive_count INTEGER NOT NULL DEFAULT 0,
		total_submissions INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 50,
		last_updated DATETIME
	);`)
	mustExec(t, db, `CREATE TABLE agent_feedbacks (
		id TEXT PRIMARY KEY,
		researcher_agent_id TEXT NOT NULL,
		validator_agent_id TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		on_chain_feedback_id INTEGER,
		finding_id TEXT,
		validation_id TEXT,
		created_at DATETIME
	);`)
}

func createEscrowTables(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE escrows (
		agent_identity_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		total_deposited TEXT NOT NULL DEFAULT '0',
		total_deducted TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME
	);`)
	mustExec(t, db, `CREATE TABLE escrow_transactions (
		id TEXT PRIMARY KEY,
		escrow_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_hash TEXT,
		created_at DATETIME
	);`)
}

func createFeeRequestTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE fee_requests (
		id TEXT PRIMARY KEY,
		request_type TEXT NOT NULL,
		requester_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		fingerprint TEXT,
		protocol_id TEXT,
		expires_at DATETIME NOT NULL,
		completed_at DATETIME,
		created_at DATETIME
	);`)
}
