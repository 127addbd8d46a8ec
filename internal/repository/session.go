package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/jackc/pgx/v5"
)

const lotterySessionColumns = `id, parent_session_id, status, entry_start_time, entry_end_time,
	lottery_date, draw_seed, drawing_started_at, completed_at`

const slotColumns = `id, session_id, slot_number, start_time, end_time,
	max_participants, current_participants, is_active`

func scanLotterySession(row pgx.Row) (*model.LotterySession, error) {
	var s model.LotterySession
	err := row.Scan(&s.ID, &s.ParentSessionID, &s.Status, &s.EntryStartTime, &s.EntryEndTime,
		&s.LotteryDate, &s.DrawSeed, &s.DrawingStartedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.SessionID, &s.SlotNumber, &s.StartTime, &s.EndTime,
		&s.MaxParticipants, &s.CurrentParticipants, &s.IsActive)
	return s, err
}

// GetPhotoSession returns a photo session or ErrNotFound.
func (q *queries) GetPhotoSession(ctx context.Context, id string) (*model.PhotoSession, error) {
	var s model.PhotoSession
	err := q.db.QueryRow(ctx,
		`SELECT id, organizer_id, title, created_at FROM photo_sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.OrganizerID, &s.Title, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err, "get photo session")
	}
	return &s, nil
}

// GetLotterySession returns a lottery session or ErrNotFound.
func (q *queries) GetLotterySession(ctx context.Context, id string) (*model.LotterySession, error) {
	s, err := scanLotterySession(q.db.QueryRow(ctx,
		`SELECT `+lotterySessionColumns+` FROM lottery_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get lottery session")
	}
	return s, nil
}

// LockLotterySession reads the lottery session under a shared row lock.
// Entry writes hold it until commit, so the freeze UPDATE in BeginDrawing
// waits for in-flight submissions and cannot interleave with them.
func (q *queries) LockLotterySession(ctx context.Context, id string) (*model.LotterySession, error) {
	s, err := scanLotterySession(q.db.QueryRow(ctx,
		`SELECT `+lotterySessionColumns+` FROM lottery_sessions WHERE id = $1 FOR SHARE`, id))
	if err != nil {
		return nil, notFound(err, "lock lottery session")
	}
	return s, nil
}

// GetSlot returns a single slot or ErrNotFound.
func (q *queries) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	s, err := scanSlot(q.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get slot")
	}
	return &s, nil
}

// ListSlots returns all slots of a photo session ordered by slot number.
func (q *queries) ListSlots(ctx context.Context, sessionID string) ([]model.Slot, error) {
	return q.listSlots(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE session_id = $1 ORDER BY slot_number, id`, sessionID)
}

// LockSlots returns the session's slots holding an exclusive row lock on
// each until the transaction ends. The allocation pass reads remaining
// capacity under this lock so that its draw and its counter increments see
// the same numbers.
func (q *queries) LockSlots(ctx context.Context, sessionID string) ([]model.Slot, error) {
	return q.listSlots(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE session_id = $1 ORDER BY slot_number, id FOR UPDATE`, sessionID)
}

func (q *queries) listSlots(ctx context.Context, sql, sessionID string) ([]model.Slot, error) {
	rows, err := q.db.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// CloseEntryWindows moves every accepting lottery whose window has ended to
// closed and returns their ids.
func (q *queries) CloseEntryWindows(ctx context.Context, now time.Time) ([]string, error) {
	return q.collectIDs(ctx,
		`UPDATE lottery_sessions SET status = 'closed'
		 WHERE status = 'accepting' AND entry_end_time < $1
		 RETURNING id`,
		now,
	)
}

// ListDueLotteries returns closed lotteries whose draw date has come and
// drawing lotteries whose lease went stale.
func (q *queries) ListDueLotteries(ctx context.Context, now, staleBefore time.Time) ([]string, error) {
	return q.collectIDs(ctx,
		`SELECT id FROM lottery_sessions
		 WHERE (status = 'closed' AND lottery_date <= $1)
		    OR (status = 'drawing' AND drawing_started_at < $2)
		 ORDER BY lottery_date, id`,
		now, staleBefore,
	)
}

func (q *queries) collectIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect ids: %w", err)
	}
	return ids, nil
}

// BeginDrawing freezes the lottery: accepting/closed → drawing with the
// run's seed. Only one concurrent caller sees true.
func (q *queries) BeginDrawing(ctx context.Context, id string, seed int64, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE lottery_sessions
		 SET status = 'drawing', draw_seed = $2, drawing_started_at = $3
		 WHERE id = $1 AND status IN ('accepting', 'closed')`,
		id, seed, now,
	)
	if err != nil {
		return false, fmt.Errorf("begin drawing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TakeOverDrawing renews the lease of a drawing lottery whose previous
// runner has not finished since staleBefore. The stored seed is kept.
func (q *queries) TakeOverDrawing(ctx context.Context, id string, staleBefore, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE lottery_sessions SET drawing_started_at = $3
		 WHERE id = $1 AND status = 'drawing' AND drawing_started_at < $2`,
		id, staleBefore, now,
	)
	if err != nil {
		return false, fmt.Errorf("take over drawing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteDrawing stores the run summary and moves drawing → completed.
func (q *queries) CompleteDrawing(ctx context.Context, id string, seed int64, result *model.AllocationResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode allocation result: %w", err)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE lottery_sessions
		 SET status = 'completed', completed_at = $3, result = $4
		 WHERE id = $1 AND status = 'drawing' AND draw_seed = $2`,
		id, seed, result.CompletedAt, payload,
	)
	if err != nil {
		return false, fmt.Errorf("complete drawing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetAllocationResult returns the stored summary of a completed run.
func (q *queries) GetAllocationResult(ctx context.Context, id string) (*model.AllocationResult, error) {
	var payload []byte
	err := q.db.QueryRow(ctx,
		`SELECT result FROM lottery_sessions WHERE id = $1 AND status = 'completed'`, id,
	).Scan(&payload)
	if err != nil {
		return nil, notFound(err, "get allocation result")
	}
	if payload == nil {
		return nil, errors.New("completed lottery session has no stored result")
	}
	var res model.AllocationResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode allocation result: %w", err)
	}
	return &res, nil
}
