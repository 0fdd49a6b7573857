package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_settlement_all_or_none",
			SQL: `SELECT id FROM deals
                  WHERE (decided_by IS NULL) <> (decided_at IS NULL)
                     OR (decided_by IS NULL) <> (outcome IS NULL)`,
		},
		{
			Name: "O2_status_outcome_agree",
			SQL: `SELECT id, status, outcome FROM deals
                  WHERE (outcome IS NOT NULL AND status <> outcome)
                     OR (status IN ('RELEASED','CANCELLED') AND outcome IS NULL)`,
		},
		{
			Name: "O3_terminal_closed_at",
			SQL: `SELECT id, status FROM deals
                  WHERE status IN ('RELEASED','CANCELLED','CLOSED') AND closed_at IS NULL`,
		},
		{
			Name: "O4_live_deals_clean",
			SQL: `SELECT id, status FROM deals
                  WHERE status IN ('OPEN','AWAITING_APPROVAL')
                    AND (closed_at IS NOT NULL OR closed_by IS NOT NULL OR outcome IS NOT NULL)`,
		},
		{
			Name: "O5_awaiting_has_proof",
			SQL: `SELECT id FROM deals
                  WHERE status = 'AWAITING_APPROVAL' AND (proof IS NULL OR proof = '')`,
		},
		{
			Name: "O6_single_settlement_event",
			SQL: `SELECT deal_id, type, COUNT(*) FROM deal_events
                  WHERE type IN ('DEAL_SETTLED','DEAL_CLOSED')
                  GROUP BY deal_id, type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_event_seq_dense",
			SQL: `WITH seqs AS (
                      SELECT deal_id, seq,
                             LAG(seq) OVER (PARTITION BY deal_id ORDER BY seq) AS prev
                      FROM deal_events)
                  SELECT * FROM seqs WHERE COALESCE(prev, 0) + 1 <> seq`,
		},
		{
			Name: "O8_reference_unique",
			SQL: `SELECT reference, COUNT(*) FROM deals
                  WHERE reference IS NOT NULL
                  GROUP BY reference HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
