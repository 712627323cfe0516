package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DraftCreator keeps inserting fresh draft requests against the shared item.
func DraftCreator(ctx context.Context, pool *pgxpool.Pool, itemID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		audience := []string{"legal", "compliance", "both"}[rand.Intn(3)]
		_, err := pool.Exec(ctx, `
            INSERT INTO requests (id, status, audience, submission_item_id, title,
                target_return_date, approvals, created_by, created_at, updated_at, version)
            VALUES (gen_random_uuid(), 'draft', $1, $2, $3, now() + interval '30 days',
                '[{"approver_id":"mgr-1","approver_name":"Morgan Hale","approver_title":"MD","approved_on":"2024-06-01T00:00:00Z"}]'::jsonb,
                'stress-submitter', now(), now(), 1)`,
			audience, itemID, fmt.Sprintf("Stress draft %d", rand.Int63()))
		if err != nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("draft creator: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Submitter races to move drafts into legal intake, allocating the yearly
// number under the counter row lock.
func Submitter(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var id string
		err = tx.QueryRow(ctx, `SELECT id FROM requests WHERE status='draft' LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id)
		if err == nil {
			year := time.Now().Year()
			var seq int
			err = tx.QueryRow(ctx, `
                INSERT INTO request_counters (year, seq) VALUES ($1, 1)
                ON CONFLICT (year) DO UPDATE SET seq = request_counters.seq + 1
                RETURNING seq`, year).Scan(&seq)
			if err == nil {
				number := fmt.Sprintf("CRR-%d-%04d", year, seq)
				_, err = tx.Exec(ctx, `
                    UPDATE requests SET status='legal_intake', number=$2, turnaround_days=5,
                        submitted_by='stress-submitter', submitted_on=now(),
                        updated_at=now(), version=version+1
                    WHERE id=$1`, id, number)
				if err == nil {
					_, _ = tx.Exec(ctx, `INSERT INTO request_events (id, request_id, kind, old_status, new_status, actor_id, created_at)
                        VALUES (gen_random_uuid(), $1, 'request.submitted', 'draft', 'legal_intake', 'stress-submitter', now())`, id)
					_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('request.submitted', jsonb_build_object('request_id', $1::text))`, id)
				}
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Assigner pulls intake requests into review and creates the audience's
// review track rows.
func Assigner(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			id       string
			audience string
		)
		err = tx.QueryRow(ctx, `SELECT id, audience FROM requests WHERE status='legal_intake' LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id, &audience)
		if err == nil {
			_, err = tx.Exec(ctx, `
                UPDATE requests SET status='in_review', attorney_id='stress-attorney',
                    attorney_assigned_by='stress-legal-admin', attorney_assigned_on=now(),
                    updated_at=now(), version=version+1
                WHERE id=$1`, id)
			if err == nil {
				if audience == "legal" || audience == "both" {
					_, _ = tx.Exec(ctx, `INSERT INTO request_reviews (request_id, track, status) VALUES ($1,'legal','in_progress') ON CONFLICT DO NOTHING`, id)
				}
				if audience == "compliance" || audience == "both" {
					_, _ = tx.Exec(ctx, `INSERT INTO request_reviews (request_id, track, status) VALUES ($1,'compliance','in_progress') ON CONFLICT DO NOTHING`, id)
				}
				_, _ = tx.Exec(ctx, `INSERT INTO request_events (id, request_id, kind, old_status, new_status, actor_id, created_at)
                    VALUES (gen_random_uuid(), $1, 'request.attorney_assigned', 'legal_intake', 'in_review', 'stress-legal-admin', now())`, id)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Reviewer approves open tracks and flips fully approved requests to
// closeout.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, track string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var id string
		err = tx.QueryRow(ctx, `
            SELECT r.id FROM requests r
            JOIN request_reviews v ON v.request_id = r.id
            WHERE r.status='in_review' AND v.track=$1 AND v.status='in_progress'
            LIMIT 1 FOR UPDATE OF r SKIP LOCKED`, track).Scan(&id)
		if err == nil {
			_, err = tx.Exec(ctx, `
                UPDATE request_reviews SET status='completed', outcome='approved',
                    reviewer_id='stress-reviewer', completed_on=now()
                WHERE request_id=$1 AND track=$2`, id, track)
			if err == nil {
				var open int
				_ = tx.QueryRow(ctx, `SELECT COUNT(*) FROM request_reviews WHERE request_id=$1 AND status <> 'completed'`, id).Scan(&open)
				if open == 0 {
					_, _ = tx.Exec(ctx, `UPDATE requests SET status='closeout', updated_at=now(), version=version+1 WHERE id=$1`, id)
					_, _ = tx.Exec(ctx, `INSERT INTO request_events (id, request_id, kind, old_status, new_status, actor_id, created_at)
                        VALUES (gen_random_uuid(), $1, 'request.closeout_ready', 'in_review', 'closeout', 'stress-reviewer', now())`, id)
				}
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// HoldToggler parks random in-flight requests and resumes parked ones,
// exercising the snapshot constraint.
func HoldToggler(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if rand.Intn(2) == 0 {
			var id, status string
			err = tx.QueryRow(ctx, `SELECT id, status FROM requests
                WHERE status IN ('legal_intake','in_review','closeout')
                LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id, &status)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE requests SET status='on_hold', previous_status=$2,
                    on_hold_by='stress-admin', on_hold_on=now(), hold_reason='stress pause',
                    updated_at=now(), version=version+1 WHERE id=$1`, id, status)
			}
		} else {
			var id, prev string
			err = tx.QueryRow(ctx, `SELECT id, previous_status FROM requests
                WHERE status='on_hold' LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id, &prev)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE requests SET status=$2, previous_status=NULL,
                    resumed_by='stress-admin', resumed_on=now(),
                    updated_at=now(), version=version+1 WHERE id=$1`, id, prev)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks processed or dead after retries.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Canceller terminates the occasional draft with a reason.
func Canceller(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM requests WHERE status='draft' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, _ = pool.Exec(ctx, `UPDATE requests SET status='cancelled', cancelled_by='stress-submitter',
                cancelled_on=now(), cancel_reason='duplicate stress draft', updated_at=now(), version=version+1
                WHERE id=$1 AND status='draft'`, id)
		}
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}
