package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// tolerable reports whether the error is an expected outcome of racing
// actors rather than a harness failure.
func tolerable(err error) bool {
	return errors.Is(err, escrow.ErrInvalidTransition) ||
		errors.Is(err, escrow.ErrAlreadySettled) ||
		errors.Is(err, escrow.ErrAlreadyClosed) ||
		errors.Is(err, escrow.ErrNotFound) ||
		errors.Is(err, escrow.ErrReferenceTaken) ||
		errors.Is(err, escrow.ErrUnauthorized)
}

func pickDeal(ctx context.Context, pool *pgxpool.Pool, status escrow.Status) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM deals WHERE status = $1 ORDER BY random() LIMIT 1`, string(status)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Opener opens deals in a loop. Every few iterations it reuses a shared
// originating reference so concurrent openers race the uniqueness guard.
func Opener(ctx context.Context, svc *escrow.Service, sharedRef string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		params := escrow.OpenParams{
			Payer:  "@payer-stress",
			Payee:  "@payee-stress",
			Amount: fmt.Sprintf("%d", 1+rand.Intn(1000)),
		}
		if rand.Intn(4) == 0 {
			params.Reference = sharedRef
		}
		opener := escrow.Actor{Identity: "user-opener", Handle: "@payer-stress"}
		if _, err := svc.Open(ctx, opener, params); err != nil && !tolerable(err) {
			return fmt.Errorf("opener: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Prover attaches proof to random open deals, pushing them to AWAITING_APPROVAL.
func Prover(ctx context.Context, svc *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickDeal(ctx, pool, escrow.StatusOpen)
		if err != nil {
			return fmt.Errorf("prover pick: %w", err)
		}
		if id != "" {
			actor := escrow.Actor{Identity: "user-opener", Handle: "@payer-stress"}
			proof := fmt.Sprintf("tx-%d", rand.Int63())
			if _, err := svc.SubmitProof(ctx, actor, id, proof); err != nil && !tolerable(err) {
				return fmt.Errorf("prover submit: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Decider settles random deals awaiting approval as the stress arbiter,
// flipping a coin between release and cancel.
func Decider(ctx context.Context, svc *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickDeal(ctx, pool, escrow.StatusAwaitingApproval)
		if err != nil {
			return fmt.Errorf("decider pick: %w", err)
		}
		if id != "" {
			outcome := escrow.OutcomeReleased
			if rand.Intn(2) == 0 {
				outcome = escrow.OutcomeCancelled
			}
			actor := escrow.Actor{Identity: "admin-stress"}
			if _, err := svc.Decide(ctx, actor, id, outcome, ""); err != nil && !tolerable(err) {
				return fmt.Errorf("decider decide: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// RogueDecider tries to settle deals without being on the arbiter roster.
// Every attempt must come back unauthorized.
func RogueDecider(ctx context.Context, svc *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickDeal(ctx, pool, escrow.StatusAwaitingApproval)
		if err != nil {
			return fmt.Errorf("rogue pick: %w", err)
		}
		if id != "" {
			actor := escrow.Actor{Identity: "user-rogue", Handle: "@rogue"}
			_, err := svc.Decide(ctx, actor, id, escrow.OutcomeReleased, "")
			if err == nil {
				return fmt.Errorf("rogue decide on %s succeeded", id)
			}
			if !errors.Is(err, escrow.ErrUnauthorized) {
				return fmt.Errorf("rogue decide: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Closer closes random live deals administratively, racing the decider.
func Closer(ctx context.Context, svc *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	statuses := []escrow.Status{escrow.StatusOpen, escrow.StatusAwaitingApproval}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickDeal(ctx, pool, statuses[rand.Intn(len(statuses))])
		if err != nil {
			return fmt.Errorf("closer pick: %w", err)
		}
		if id != "" {
			actor := escrow.Actor{Identity: "admin-stress"}
			if _, err := svc.Close(ctx, actor, id); err != nil && !tolerable(err) {
				return fmt.Errorf("closer close: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
