package sqldb

import "strings"

// schema is shared by both backends. {{BLOB}} is replaced with the
// dialect's binary type. Statements are split on ";\n\n".
const schema = `
-- Ledger
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	designation TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	iban TEXT NOT NULL DEFAULT '',
	bic TEXT NOT NULL DEFAULT '',
	holder_name TEXT NOT NULL DEFAULT '',
	ceilings_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	price_cents BIGINT NOT NULL CHECK (price_cents > 0),
	label TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
	status TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	subscription_id TEXT REFERENCES subscriptions(id) ON DELETE SET NULL,
	created_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS monthly_allocations (
	id TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE RESTRICT,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_allocations_subscription ON monthly_allocations(subscription_id);

CREATE TABLE IF NOT EXISTS operations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	amount_cents BIGINT NOT NULL,
	payment_id TEXT REFERENCES payments(id) ON DELETE SET NULL,
	allocation_id TEXT REFERENCES monthly_allocations(id) ON DELETE SET NULL,
	label TEXT NOT NULL DEFAULT '',
	settled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL
);

-- Balance and payment sums (hot path)
CREATE INDEX IF NOT EXISTS idx_operations_account ON operations(account_id);

CREATE INDEX IF NOT EXISTS idx_operations_payment ON operations(payment_id);

-- Dossiers
CREATE TABLE IF NOT EXISTS suppliers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	iban TEXT NOT NULL DEFAULT '',
	bic TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	title TEXT NOT NULL,
	kind TEXT NOT NULL,
	event_ref TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_by TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	person_id TEXT NOT NULL,
	person_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	needs_transport BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS expenses (
	id TEXT PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
	type_code TEXT NOT NULL,
	label TEXT NOT NULL,
	amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
	state TEXT NOT NULL,
	supplier_id TEXT REFERENCES suppliers(id) ON DELETE SET NULL,
	beneficiary_id TEXT,
	engaged_at TEXT,
	rebilled_to TEXT REFERENCES accounts(id) ON DELETE RESTRICT,
	rebilled_at TEXT,
	created_by TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_account_state ON expenses(account_id, state);

CREATE INDEX IF NOT EXISTS idx_expenses_project ON expenses(project_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	doc_type TEXT NOT NULL,
	obligation TEXT NOT NULL,
	has_file BOOLEAN NOT NULL DEFAULT FALSE,
	label TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

-- A document may be shared by several owners
CREATE TABLE IF NOT EXISTS document_links (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	owner_kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	PRIMARY KEY (document_id, owner_kind, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_document_links_owner ON document_links(owner_kind, owner_id);

CREATE TABLE IF NOT EXISTS remarks (
	id TEXT PRIMARY KEY,
	owner_kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	body TEXT NOT NULL,
	author_id TEXT NOT NULL,
	is_open BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_remarks_owner ON remarks(owner_kind, owner_id);

CREATE TABLE IF NOT EXISTS transfer_orders (
	id TEXT PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	execution_date TEXT NOT NULL,
	status TEXT NOT NULL,
	file {{BLOB}},
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settlements (
	id TEXT PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE RESTRICT,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	mode TEXT NOT NULL,
	amount_cents BIGINT NOT NULL,
	creditor_supplier_id TEXT,
	creditor_name TEXT NOT NULL DEFAULT '',
	creditor_iban TEXT NOT NULL DEFAULT '',
	creditor_bic TEXT NOT NULL DEFAULT '',
	creditor_address TEXT NOT NULL DEFAULT '',
	proof_document_id TEXT REFERENCES documents(id) ON DELETE SET NULL,
	status TEXT NOT NULL,
	end_to_end_id TEXT UNIQUE,
	transfer_order_id TEXT REFERENCES transfer_orders(id) ON DELETE SET NULL,
	created_at TEXT NOT NULL,
	settled_at TEXT,
	reconciled_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_settlements_expense ON settlements(expense_id);

CREATE INDEX IF NOT EXISTS idx_settlements_account_status ON settlements(account_id, status);

CREATE INDEX IF NOT EXISTS idx_settlements_order ON settlements(transfer_order_id);

-- End-to-end identifiers ever assigned; rows are never deleted
CREATE TABLE IF NOT EXISTS end_to_end_ids (
	id TEXT PRIMARY KEY,
	settlement_id TEXT NOT NULL
);

-- Audit (append-only)
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	at TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	action TEXT NOT NULL,
	transition TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_kind, subject_id, at)
`

func schemaStatements(d Dialect) []string {
	text := strings.ReplaceAll(schema, "{{BLOB}}", d.Blob)
	var out []string
	for _, stmt := range strings.Split(text, ";\n\n") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}
