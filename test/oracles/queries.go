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
			Name: "O1_hold_snapshot",
			SQL: `SELECT id, status, previous_status FROM requests
                  WHERE (status = 'on_hold') <> (previous_status IS NOT NULL)`,
		},
		{
			Name: "O2_terminal_stamps",
			SQL: `SELECT id, status FROM requests
                  WHERE (status = 'completed' AND completed_on IS NULL AND cancelled_on IS NULL)
                     OR (status = 'cancelled' AND cancelled_on IS NULL)`,
		},
		{
			Name: "O3_unique_number",
			SQL: `SELECT number, COUNT(*) FROM requests
                  WHERE number IS NOT NULL
                  GROUP BY number HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_rush_rationale",
			SQL: `SELECT id FROM requests
                  WHERE is_rush AND status NOT IN ('draft') AND length(rush_rationale) < 10`,
		},
		{
			Name: "O5_review_track_audience",
			SQL: `SELECT r.id, r.audience FROM requests r
                  WHERE r.status IN ('in_review','closeout','completed')
                    AND r.audience IN ('legal','both')
                    AND r.attorney_id IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM request_reviews v
                        WHERE v.request_id = r.id AND v.track = 'legal')`,
		},
		{
			Name: "O6_version_positive",
			SQL:  `SELECT id, version FROM requests WHERE version < 1`,
		},
		{
			Name: "O7_outbox_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_counter_consistent",
			SQL: `SELECT c.year FROM request_counters c
                  WHERE c.seq < (
                      SELECT COUNT(*) FROM requests r
                      WHERE r.number LIKE 'CRR-' || c.year || '-%')`,
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
