package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed Store. Per-deal serialization comes from
// a SELECT ... FOR UPDATE row lock held across the read-check-write sequence;
// every successful transition appends a deal_events row in the same
// transaction, so the audit trail and the deal row move together.
type Repository struct {
	pool  *pgxpool.Pool
	idGen func() string
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:  pool,
		idGen: NewDealID,
	}
}

// WithIDGenerator overrides id allocation, for tests.
func (r *Repository) WithIDGenerator(gen func() string) *Repository {
	r.idGen = gen
	return r
}

// errIDCollision signals the generated id already exists; Create retries.
var errIDCollision = errors.New("escrow: deal id collision")

const createAttempts = 5

const dealColumns = `id, payer, payee, amount, note, creator, reference, status, proof,
       decided_by, decided_at, outcome, decide_reason, created_at, closed_at, closed_by`

func (r *Repository) Create(ctx context.Context, creator string, params OpenParams) (Deal, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		deal, err := r.tryCreate(ctx, creator, params)
		if errors.Is(err, errIDCollision) {
			continue
		}
		return deal, err
	}
	return Deal{}, fmt.Errorf("escrow: allocate deal id: %d collisions in a row", createAttempts)
}

func (r *Repository) tryCreate(ctx context.Context, creator string, params OpenParams) (Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("escrow: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deal := Deal{
		ID:        r.idGen(),
		Payer:     params.Payer,
		Payee:     params.Payee,
		Amount:    params.Amount,
		Note:      params.Note,
		Creator:   creator,
		Reference: params.Reference,
		Status:    StatusOpen,
	}

	const insertSQL = `
INSERT INTO deals (id, payer, payee, amount, note, creator, reference, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at
`
	var reference any
	if deal.Reference != "" {
		reference = deal.Reference
	}
	if err := tx.QueryRow(ctx, insertSQL,
		deal.ID, deal.Payer, deal.Payee, deal.Amount, deal.Note, deal.Creator, reference, deal.Status,
	).Scan(&deal.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "deals_pkey":
				return Deal{}, errIDCollision
			case "deals_reference_key":
				return Deal{}, ErrReferenceTaken
			}
		}
		return Deal{}, fmt.Errorf("escrow: insert deal: %w", err)
	}

	payload := map[string]any{
		"payer":  deal.Payer,
		"payee":  deal.Payee,
		"amount": deal.Amount,
	}
	if err := appendEvent(ctx, tx, deal.ID, "DEAL_OPENED", creator, payload); err != nil {
		return Deal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return deal, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Deal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("escrow: query deal by id: %w", err)
	}
	return deal, nil
}

func (r *Repository) ResolveByReference(ctx context.Context, ref string) (Deal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE reference = $1`, ref)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("escrow: query deal by reference: %w", err)
	}
	return deal, nil
}

func (r *Repository) ListFor(ctx context.Context, identity, handle string) ([]Deal, error) {
	if handle == "" {
		handle = identity
	}

	const query = `
SELECT ` + dealColumns + `
FROM deals
WHERE creator IN ($1, $2) OR payer IN ($1, $2) OR payee IN ($1, $2)
ORDER BY created_at ASC, id ASC
`
	rows, err := r.pool.Query(ctx, query, identity, handle)
	if err != nil {
		return nil, fmt.Errorf("escrow: list deals: %w", err)
	}
	defer rows.Close()

	out := make([]Deal, 0, 8)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan deal: %w", err)
		}
		out = append(out, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate deals: %w", err)
	}
	return out, nil
}

func (r *Repository) Mutate(ctx context.Context, id string, fn func(*Deal) error) (Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("escrow: begin mutate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
	before, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("escrow: lock deal: %w", err)
	}

	next := before
	if err := fn(&next); err != nil {
		return before, err
	}

	var (
		decidedBy, outcome, reason any
		decidedAt                  any
	)
	if next.Settlement != nil {
		decidedBy = next.Settlement.DecidedBy
		decidedAt = next.Settlement.DecidedAt
		outcome = next.Settlement.Outcome
		reason = next.Settlement.Reason
	}
	var closedBy any
	if next.ClosedBy != "" {
		closedBy = next.ClosedBy
	}

	const updateSQL = `
UPDATE deals
SET status = $1,
    proof = $2,
    decided_by = $3,
    decided_at = $4,
    outcome = $5,
    decide_reason = $6,
    closed_at = $7,
    closed_by = $8
WHERE id = $9
`
	if _, err := tx.Exec(ctx, updateSQL,
		next.Status, next.Proof, decidedBy, decidedAt, outcome, reason, next.ClosedAt, closedBy, id,
	); err != nil {
		return Deal{}, fmt.Errorf("escrow: update deal: %w", err)
	}

	if eventType := transitionEvent(before, next); eventType != "" {
		payload := map[string]any{
			"previous_status": before.Status,
			"next_status":     next.Status,
		}
		actor := next.ClosedBy
		if next.Settlement != nil {
			payload["outcome"] = next.Settlement.Outcome
			actor = next.Settlement.DecidedBy
		}
		if err := appendEvent(ctx, tx, id, eventType, actor, payload); err != nil {
			return Deal{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("escrow: commit mutate: %w", err)
	}
	return next, nil
}

// transitionEvent names the audit event for a committed status change.
func transitionEvent(before, after Deal) string {
	switch {
	case before.Settlement == nil && after.Settlement != nil:
		return "DEAL_SETTLED"
	case before.Status != StatusClosed && after.Status == StatusClosed:
		return "DEAL_CLOSED"
	case before.Status == StatusOpen && after.Status == StatusAwaitingApproval:
		return "PROOF_SUBMITTED"
	default:
		return ""
	}
}

func appendEvent(ctx context.Context, tx pgx.Tx, dealID, eventType, actor string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal event payload: %w", err)
	}

	var actorVal any
	if actor != "" {
		actorVal = actor
	}

	const insertSQL = `
INSERT INTO deal_events (deal_id, seq, type, actor, payload)
VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM deal_events WHERE deal_id = $1), $2, $3, $4)
`
	if _, err := tx.Exec(ctx, insertSQL, dealID, eventType, actorVal, payloadJSON); err != nil {
		return fmt.Errorf("escrow: insert deal event: %w", err)
	}
	return nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var (
		d                                Deal
		reference, decidedBy, outcomeStr sql.NullString
		reason, closedBy                 sql.NullString
		decidedAt                        *time.Time
	)
	if err := row.Scan(
		&d.ID, &d.Payer, &d.Payee, &d.Amount, &d.Note, &d.Creator, &reference, &d.Status, &d.Proof,
		&decidedBy, &decidedAt, &outcomeStr, &reason, &d.CreatedAt, &d.ClosedAt, &closedBy,
	); err != nil {
		return Deal{}, err
	}
	d.Reference = reference.String
	d.ClosedBy = closedBy.String
	if decidedBy.Valid && decidedAt != nil && outcomeStr.Valid {
		d.Settlement = &Settlement{
			DecidedBy: decidedBy.String,
			DecidedAt: *decidedAt,
			Outcome:   Outcome(outcomeStr.String),
			Reason:    reason.String,
		}
	}
	return d, nil
}
