package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
)

// Child rows are always read after the parent rows are closed. A pgx
// connection refuses a second query while rows are open, and an in-memory
// SQLite pool has a single connection.

// =============================================================================
// SUPPLIERS
// =============================================================================

const supplierColumns = `id, name, iban, bic, address`

func scanSupplier(row scanner) (gestion.Supplier, error) {
	var s gestion.Supplier
	err := row.Scan(&s.ID, &s.Name, &s.IBAN, &s.BIC, &s.Address)
	return s, err
}

func (t *txn) InsertSupplier(ctx context.Context, s gestion.Supplier) error {
	_, err := t.exec(ctx, `INSERT INTO suppliers (`+supplierColumns+`) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.IBAN, s.BIC, s.Address)
	if err != nil {
		return fmt.Errorf("insert supplier: %w", err)
	}
	return nil
}

func (t *txn) UpdateSupplier(ctx context.Context, s gestion.Supplier) error {
	res, err := t.exec(ctx, `UPDATE suppliers SET name = ?, iban = ?, bic = ?, address = ? WHERE id = ?`,
		s.Name, s.IBAN, s.BIC, s.Address, s.ID)
	if err != nil {
		return fmt.Errorf("update supplier %s: %w", s.ID, err)
	}
	return mustAffect(res, "supplier", s.ID)
}

func (t *txn) GetSupplier(ctx context.Context, id string) (gestion.Supplier, error) {
	s, err := scanSupplier(t.queryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id))
	return s, notFound(err, "supplier", id)
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, reference, account_id, project_id, type_code, label, amount_cents, state,
	supplier_id, beneficiary_id, engaged_at, rebilled_to, rebilled_at, created_by, version, created_at, updated_at`

func scanExpense(row scanner) (gestion.Expense, error) {
	var e gestion.Expense
	var typeCode, state, createdAt, updatedAt string
	var amount int64
	var projectID, supplierID, beneficiaryID, engagedAt, rebilledTo, rebilledAt sql.NullString
	if err := row.Scan(&e.ID, &e.Reference, &e.AccountID, &projectID, &typeCode, &e.Label, &amount, &state,
		&supplierID, &beneficiaryID, &engagedAt, &rebilledTo, &rebilledAt, &e.CreatedBy, &e.Version, &createdAt, &updatedAt); err != nil {
		return e, err
	}
	e.ProjectID = projectID.String
	e.Type = generic.TypeCode(typeCode)
	e.Amount = money(amount)
	e.State = gestion.ExpenseState(state)
	e.SupplierID = supplierID.String
	e.BeneficiaryID = beneficiaryID.String
	e.EngagedAt = timePtr(engagedAt)
	e.RebilledTo = rebilledTo.String
	e.RebilledAt = timePtr(rebilledAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func (t *txn) InsertExpense(ctx context.Context, e gestion.Expense) error {
	version := e.Version
	if version == 0 {
		version = 1
	}
	_, err := t.exec(ctx, `INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Reference, e.AccountID, nullString(e.ProjectID), string(e.Type), e.Label, cents(e.Amount),
		string(e.State), nullString(e.SupplierID), nullString(e.BeneficiaryID), nullTime(e.EngagedAt),
		nullString(e.RebilledTo), nullTime(e.RebilledAt), e.CreatedBy, version, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert expense %s: %w", e.Reference, err)
	}
	return nil
}

func (t *txn) expenseRow(ctx context.Context, id string, lock bool) (gestion.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`
	if lock {
		query = t.locking(query)
	}
	e, err := scanExpense(t.queryRow(ctx, query, id))
	return e, notFound(err, "expense", id)
}

// loadExpenseChildren fills documents, remarks and settlements.
func (t *txn) loadExpenseChildren(ctx context.Context, e *gestion.Expense) error {
	owner := gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID}
	var err error
	if e.Documents, err = t.documentsOf(ctx, owner); err != nil {
		return err
	}
	if e.Remarks, err = t.remarksOf(ctx, owner); err != nil {
		return err
	}
	e.Settlements, err = t.ListSettlements(ctx, gestion.SettlementFilter{ExpenseID: e.ID})
	return err
}

func (t *txn) GetExpense(ctx context.Context, id string) (gestion.Expense, error) {
	e, err := t.expenseRow(ctx, id, false)
	if err != nil {
		return e, err
	}
	return e, t.loadExpenseChildren(ctx, &e)
}

func (t *txn) LockExpense(ctx context.Context, id string) (gestion.Expense, error) {
	e, err := t.expenseRow(ctx, id, true)
	if err != nil {
		return e, err
	}
	return e, t.loadExpenseChildren(ctx, &e)
}

func (t *txn) UpdateExpense(ctx context.Context, e gestion.Expense, version int) error {
	res, err := t.exec(ctx, `
		UPDATE expenses SET project_id = ?, type_code = ?, label = ?, amount_cents = ?, state = ?,
			supplier_id = ?, beneficiary_id = ?, engaged_at = ?, rebilled_to = ?, rebilled_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		nullString(e.ProjectID), string(e.Type), e.Label, cents(e.Amount), string(e.State),
		nullString(e.SupplierID), nullString(e.BeneficiaryID), nullTime(e.EngagedAt),
		nullString(e.RebilledTo), nullTime(e.RebilledAt), fmtTime(e.UpdatedAt),
		e.ID, version)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.Reference, err)
	}
	return t.versioned(ctx, res, "expenses", "expense", e.ID)
}

// versioned distinguishes a stale version from a missing row.
func (t *txn) versioned(ctx context.Context, res sql.Result, table, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = t.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, generic.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", what, id, generic.ErrConcurrentModification)
}

func (t *txn) ListExpenses(ctx context.Context, f gestion.ExpenseFilter) ([]gestion.Expense, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, reference"

	out, err := t.expenseRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := t.loadExpenseChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *txn) expenseRows(ctx context.Context, query string, args ...any) ([]gestion.Expense, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gestion.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `id, reference, account_id, title, kind, event_ref, state, created_by, version,
	created_at, updated_at`

func scanProject(row scanner) (gestion.Project, error) {
	var p gestion.Project
	var kind, state, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Reference, &p.AccountID, &p.Title, &kind, &p.EventRef, &state,
		&p.CreatedBy, &p.Version, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	p.Kind = gestion.ProjectKind(kind)
	p.State = gestion.ProjectState(state)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (t *txn) InsertProject(ctx context.Context, p gestion.Project) error {
	version := p.Version
	if version == 0 {
		version = 1
	}
	_, err := t.exec(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Reference, p.AccountID, p.Title, string(p.Kind), p.EventRef, string(p.State), p.CreatedBy,
		version, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.Reference, err)
	}
	return nil
}

func (t *txn) GetProject(ctx context.Context, id string) (gestion.Project, error) {
	p, err := scanProject(t.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return p, notFound(err, "project", id)
	}
	if p.Participations, err = t.participationsOf(ctx, p.ID); err != nil {
		return p, err
	}
	owner := gestion.Owner{Kind: gestion.OwnerProject, ID: p.ID}
	if p.Documents, err = t.documentsOf(ctx, owner); err != nil {
		return p, err
	}
	if p.Remarks, err = t.remarksOf(ctx, owner); err != nil {
		return p, err
	}
	p.Expenses, err = t.expenseRows(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE project_id = ? ORDER BY created_at, reference`, p.ID)
	return p, err
}

func (t *txn) UpdateProject(ctx context.Context, p gestion.Project, version int) error {
	res, err := t.exec(ctx, `
		UPDATE projects SET title = ?, kind = ?, event_ref = ?, state = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Title, string(p.Kind), p.EventRef, string(p.State), fmtTime(p.UpdatedAt), p.ID, version)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.Reference, err)
	}
	return t.versioned(ctx, res, "projects", "project", p.ID)
}

func (t *txn) InsertParticipation(ctx context.Context, projectID string, p gestion.Participation) error {
	_, err := t.exec(ctx, `
		INSERT INTO participations (id, project_id, person_id, person_name, role, needs_transport)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, projectID, p.PersonID, p.PersonName, p.Role, p.NeedsTransport)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func (t *txn) participationsOf(ctx context.Context, projectID string) ([]gestion.Participation, error) {
	rows, err := t.query(ctx, `
		SELECT id, person_id, person_name, role, needs_transport
		FROM participations WHERE project_id = ? ORDER BY person_name, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gestion.Participation
	for rows.Next() {
		var p gestion.Participation
		if err := rows.Scan(&p.ID, &p.PersonID, &p.PersonName, &p.Role, &p.NeedsTransport); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// DOCUMENTS AND REMARKS
// =============================================================================

const documentColumns = `id, doc_type, obligation, has_file, label, url, created_at`

func scanDocument(row scanner) (gestion.Document, error) {
	var d gestion.Document
	var obligation, createdAt string
	if err := row.Scan(&d.ID, &d.Type, &obligation, &d.HasFile, &d.Label, &d.URL, &createdAt); err != nil {
		return d, err
	}
	d.Obligation = gestion.Obligation(obligation)
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

func (t *txn) InsertDocument(ctx context.Context, owner gestion.Owner, d gestion.Document) error {
	_, err := t.exec(ctx, `INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Type, string(d.Obligation), d.HasFile, d.Label, d.URL, fmtTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return t.LinkDocument(ctx, owner, d.ID)
}

func (t *txn) LinkDocument(ctx context.Context, owner gestion.Owner, documentID string) error {
	_, err := t.exec(ctx, `INSERT INTO document_links (document_id, owner_kind, owner_id) VALUES (?, ?, ?)`,
		documentID, string(owner.Kind), owner.ID)
	if err != nil {
		return fmt.Errorf("link document %s to %s %s: %w", documentID, owner.Kind, owner.ID, err)
	}
	return nil
}

func (t *txn) GetDocument(ctx context.Context, id string) (gestion.Document, error) {
	d, err := scanDocument(t.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	return d, notFound(err, "document", id)
}

func (t *txn) UpdateDocument(ctx context.Context, d gestion.Document) error {
	res, err := t.exec(ctx, `
		UPDATE documents SET doc_type = ?, obligation = ?, has_file = ?, label = ?, url = ? WHERE id = ?`,
		d.Type, string(d.Obligation), d.HasFile, d.Label, d.URL, d.ID)
	if err != nil {
		return fmt.Errorf("update document %s: %w", d.ID, err)
	}
	return mustAffect(res, "document", d.ID)
}

func (t *txn) documentsOf(ctx context.Context, owner gestion.Owner) ([]gestion.Document, error) {
	rows, err := t.query(ctx, `
		SELECT d.id, d.doc_type, d.obligation, d.has_file, d.label, d.url, d.created_at
		FROM documents d JOIN document_links l ON l.document_id = d.id
		WHERE l.owner_kind = ? AND l.owner_id = ?
		ORDER BY d.created_at, d.id`, string(owner.Kind), owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gestion.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const remarkColumns = `id, owner_kind, owner_id, body, author_id, is_open, created_at, resolved_at`

func scanRemark(row scanner) (gestion.Remark, gestion.Owner, error) {
	var r gestion.Remark
	var owner gestion.Owner
	var kind, createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&r.ID, &kind, &owner.ID, &r.Text, &r.AuthorID, &r.Open, &createdAt, &resolvedAt); err != nil {
		return r, owner, err
	}
	owner.Kind = gestion.OwnerKind(kind)
	r.CreatedAt = parseTime(createdAt)
	r.ResolvedAt = timePtr(resolvedAt)
	return r, owner, nil
}

func (t *txn) InsertRemark(ctx context.Context, owner gestion.Owner, r gestion.Remark) error {
	_, err := t.exec(ctx, `INSERT INTO remarks (`+remarkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(owner.Kind), owner.ID, r.Text, r.AuthorID, r.Open, fmtTime(r.CreatedAt), nullTime(r.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert remark: %w", err)
	}
	return nil
}

func (t *txn) GetRemark(ctx context.Context, id string) (gestion.Remark, gestion.Owner, error) {
	r, owner, err := scanRemark(t.queryRow(ctx, `SELECT `+remarkColumns+` FROM remarks WHERE id = ?`, id))
	return r, owner, notFound(err, "remark", id)
}

func (t *txn) UpdateRemark(ctx context.Context, r gestion.Remark) error {
	res, err := t.exec(ctx, `UPDATE remarks SET body = ?, is_open = ?, resolved_at = ? WHERE id = ?`,
		r.Text, r.Open, nullTime(r.ResolvedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update remark %s: %w", r.ID, err)
	}
	return mustAffect(res, "remark", r.ID)
}

func (t *txn) remarksOf(ctx context.Context, owner gestion.Owner) ([]gestion.Remark, error) {
	rows, err := t.query(ctx, `SELECT `+remarkColumns+` FROM remarks
		WHERE owner_kind = ? AND owner_id = ? ORDER BY created_at, id`, string(owner.Kind), owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gestion.Remark
	for rows.Next() {
		r, _, err := scanRemark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

const settlementColumns = `id, reference, expense_id, account_id, mode, amount_cents,
	creditor_supplier_id, creditor_name, creditor_iban, creditor_bic, creditor_address,
	proof_document_id, status, end_to_end_id, transfer_order_id, created_at, settled_at, reconciled_at`

func scanSettlement(row scanner) (gestion.Settlement, error) {
	var s gestion.Settlement
	var mode, status, createdAt string
	var amount int64
	var supplierID, proofID, e2e, orderID, settledAt, reconciledAt sql.NullString
	if err := row.Scan(&s.ID, &s.Reference, &s.ExpenseID, &s.AccountID, &mode, &amount,
		&supplierID, &s.Creditor.Name, &s.Creditor.IBAN, &s.Creditor.BIC, &s.Creditor.Address,
		&proofID, &status, &e2e, &orderID, &createdAt, &settledAt, &reconciledAt); err != nil {
		return s, err
	}
	s.Mode = gestion.SettlementMode(mode)
	s.Amount = money(amount)
	s.Creditor.ID = supplierID.String
	s.ProofDocumentID = proofID.String
	s.Status = gestion.SettlementStatus(status)
	s.EndToEndID = e2e.String
	s.TransferOrderID = orderID.String
	s.CreatedAt = parseTime(createdAt)
	s.SettledAt = timePtr(settledAt)
	s.ReconciledAt = timePtr(reconciledAt)
	return s, nil
}

func (t *txn) InsertSettlement(ctx context.Context, s gestion.Settlement) error {
	_, err := t.exec(ctx, `INSERT INTO settlements (`+settlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Reference, s.ExpenseID, s.AccountID, string(s.Mode), cents(s.Amount),
		nullString(s.Creditor.ID), s.Creditor.Name, s.Creditor.IBAN, s.Creditor.BIC, s.Creditor.Address,
		nullString(s.ProofDocumentID), string(s.Status), nullString(s.EndToEndID), nullString(s.TransferOrderID),
		fmtTime(s.CreatedAt), nullTime(s.SettledAt), nullTime(s.ReconciledAt))
	if err != nil {
		return fmt.Errorf("insert settlement %s: %w", s.Reference, err)
	}
	return t.reserveEndToEndID(ctx, s)
}

// reserveEndToEndID records an identifier the first time a settlement
// carries it. The registry outlives settlements, so a deleted settlement's
// identifier can never be handed to another one.
func (t *txn) reserveEndToEndID(ctx context.Context, s gestion.Settlement) error {
	if s.EndToEndID == "" {
		return nil
	}
	var owner string
	err := t.queryRow(ctx, `SELECT settlement_id FROM end_to_end_ids WHERE id = ?`, s.EndToEndID).Scan(&owner)
	switch {
	case err == nil && owner == s.ID:
		return nil
	case err == nil:
		return fmt.Errorf("%w: end-to-end id %s already used", generic.ErrDuplicateReference, s.EndToEndID)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO end_to_end_ids (id, settlement_id) VALUES (?, ?)`, s.EndToEndID, s.ID)
	if err != nil {
		return fmt.Errorf("reserve end-to-end id: %w", err)
	}
	return nil
}

func (t *txn) GetSettlement(ctx context.Context, id string) (gestion.Settlement, error) {
	s, err := scanSettlement(t.queryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id))
	return s, notFound(err, "settlement", id)
}

func (t *txn) UpdateSettlement(ctx context.Context, s gestion.Settlement) error {
	if err := t.reserveEndToEndID(ctx, s); err != nil {
		return err
	}
	res, err := t.exec(ctx, `
		UPDATE settlements SET mode = ?, amount_cents = ?, creditor_supplier_id = ?, creditor_name = ?,
			creditor_iban = ?, creditor_bic = ?, creditor_address = ?, proof_document_id = ?, status = ?,
			end_to_end_id = ?, transfer_order_id = ?, settled_at = ?, reconciled_at = ?
		WHERE id = ?`,
		string(s.Mode), cents(s.Amount), nullString(s.Creditor.ID), s.Creditor.Name,
		s.Creditor.IBAN, s.Creditor.BIC, s.Creditor.Address, nullString(s.ProofDocumentID), string(s.Status),
		nullString(s.EndToEndID), nullString(s.TransferOrderID), nullTime(s.SettledAt), nullTime(s.ReconciledAt),
		s.ID)
	if err != nil {
		return fmt.Errorf("update settlement %s: %w", s.Reference, err)
	}
	return mustAffect(res, "settlement", s.ID)
}

func (t *txn) DeleteSettlement(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM settlements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete settlement %s: %w", id, err)
	}
	return mustAffect(res, "settlement", id)
}

func (t *txn) LockSettlements(ctx context.Context, ids []string) ([]gestion.Settlement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return t.settlementRows(ctx,
		t.locking(`SELECT `+settlementColumns+` FROM settlements WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`),
		stringArgs(ids)...)
}

func (t *txn) ListSettlements(ctx context.Context, f gestion.SettlementFilter) ([]gestion.Settlement, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.ExpenseID != "" {
		where = append(where, "expense_id = ?")
		args = append(args, f.ExpenseID)
	}
	if f.TransferOrderID != "" {
		where = append(where, "transfer_order_id = ?")
		args = append(args, f.TransferOrderID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, reference"
	return t.settlementRows(ctx, query, args...)
}

func (t *txn) settlementRows(ctx context.Context, query string, args ...any) ([]gestion.Settlement, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gestion.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSFER ORDERS
// =============================================================================

const orderColumns = `id, reference, account_id, execution_date, status, file, created_by, created_at, updated_at`

func scanOrder(row scanner) (gestion.TransferOrder, error) {
	var o gestion.TransferOrder
	var executionDate, status, createdAt, updatedAt string
	if err := row.Scan(&o.ID, &o.Reference, &o.AccountID, &executionDate, &status, &o.File, &o.CreatedBy,
		&createdAt, &updatedAt); err != nil {
		return o, err
	}
	o.ExecutionDate = parseTime(executionDate)
	o.Status = gestion.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func (t *txn) InsertTransferOrder(ctx context.Context, o gestion.TransferOrder) error {
	_, err := t.exec(ctx, `INSERT INTO transfer_orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Reference, o.AccountID, fmtTime(o.ExecutionDate), string(o.Status), o.File, o.CreatedBy,
		fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert transfer order %s: %w", o.Reference, err)
	}
	return nil
}

func (t *txn) orderSettlementIDs(ctx context.Context, orderID string) ([]string, error) {
	rows, err := t.query(ctx, `SELECT id FROM settlements WHERE transfer_order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txn) transferOrder(ctx context.Context, id string, lock bool) (gestion.TransferOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM transfer_orders WHERE id = ?`
	if lock {
		query = t.locking(query)
	}
	o, err := scanOrder(t.queryRow(ctx, query, id))
	if err != nil {
		return o, notFound(err, "transfer order", id)
	}
	o.SettlementIDs, err = t.orderSettlementIDs(ctx, o.ID)
	return o, err
}

func (t *txn) LockTransferOrder(ctx context.Context, id string) (gestion.TransferOrder, error) {
	return t.transferOrder(ctx, id, true)
}

func (t *txn) GetTransferOrder(ctx context.Context, id string) (gestion.TransferOrder, error) {
	return t.transferOrder(ctx, id, false)
}

func (t *txn) UpdateTransferOrder(ctx context.Context, o gestion.TransferOrder) error {
	res, err := t.exec(ctx, `
		UPDATE transfer_orders SET execution_date = ?, status = ?, file = ?, updated_at = ? WHERE id = ?`,
		fmtTime(o.ExecutionDate), string(o.Status), o.File, fmtTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("update transfer order %s: %w", o.Reference, err)
	}
	return mustAffect(res, "transfer order", o.ID)
}

func (t *txn) ListTransferOrders(ctx context.Context, accountID string) ([]gestion.TransferOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM transfer_orders`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at, reference`

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []gestion.TransferOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].SettlementIDs, err = t.orderSettlementIDs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// =============================================================================
// STORE READS (outside any transaction)
// =============================================================================

func (s *Store) GetExpense(ctx context.Context, id string) (gestion.Expense, error) {
	return s.reader().GetExpense(ctx, id)
}

func (s *Store) ListExpenses(ctx context.Context, f gestion.ExpenseFilter) ([]gestion.Expense, error) {
	return s.reader().ListExpenses(ctx, f)
}

func (s *Store) GetProject(ctx context.Context, id string) (gestion.Project, error) {
	return s.reader().GetProject(ctx, id)
}

func (s *Store) GetSupplier(ctx context.Context, id string) (gestion.Supplier, error) {
	return s.reader().GetSupplier(ctx, id)
}

func (s *Store) GetSettlement(ctx context.Context, id string) (gestion.Settlement, error) {
	return s.reader().GetSettlement(ctx, id)
}

func (s *Store) GetTransferOrder(ctx context.Context, id string) (gestion.TransferOrder, error) {
	return s.reader().GetTransferOrder(ctx, id)
}

func (s *Store) ListTransferOrders(ctx context.Context, accountID string) ([]gestion.TransferOrder, error) {
	return s.reader().ListTransferOrders(ctx, accountID)
}
