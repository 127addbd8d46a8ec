package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
)

const checkInAggregate = `
	COUNT(b.id) FILTER (WHERE b.status = 'confirmed'),
	COUNT(b.id) FILTER (WHERE b.status = 'confirmed' AND b.checked_in_at IS NOT NULL),
	COUNT(b.id) FILTER (WHERE b.status = 'confirmed' AND b.checked_out_at IS NOT NULL)`

// SlotCheckInStatus aggregates venue progress of one slot.
func (q *queries) SlotCheckInStatus(ctx context.Context, slotID string) (*model.SlotCheckInStatus, error) {
	var st model.SlotCheckInStatus
	err := q.db.QueryRow(ctx,
		`SELECT s.id, s.slot_number, s.max_participants,`+checkInAggregate+`
		 FROM slots s LEFT JOIN bookings b ON b.slot_id = s.id
		 WHERE s.id = $1
		 GROUP BY s.id`,
		slotID,
	).Scan(&st.SlotID, &st.SlotNumber, &st.MaxParticipants, &st.Total, &st.CheckedIn, &st.CheckedOut)
	if err != nil {
		return nil, notFound(err, "slot check-in status")
	}
	return &st, nil
}

// SessionCheckInStatus aggregates every slot of a photo session in one query
// instead of one round trip per slot.
func (q *queries) SessionCheckInStatus(ctx context.Context, sessionID string) ([]model.SlotCheckInStatus, error) {
	rows, err := q.db.Query(ctx,
		`SELECT s.id, s.slot_number, s.max_participants,`+checkInAggregate+`
		 FROM slots s LEFT JOIN bookings b ON b.slot_id = s.id
		 WHERE s.session_id = $1
		 GROUP BY s.id
		 ORDER BY s.slot_number, s.id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session check-in status: %w", err)
	}
	defer rows.Close()

	var out []model.SlotCheckInStatus
	for rows.Next() {
		var st model.SlotCheckInStatus
		if err := rows.Scan(&st.SlotID, &st.SlotNumber, &st.MaxParticipants, &st.Total, &st.CheckedIn, &st.CheckedOut); err != nil {
			return nil, fmt.Errorf("scan check-in status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GroupStatusCounts counts entry groups of a lottery by status.
func (q *queries) GroupStatusCounts(ctx context.Context, lotterySessionID string) (map[model.GroupStatus]int, error) {
	rows, err := q.db.Query(ctx,
		`SELECT group_status, COUNT(*) FROM entry_groups
		 WHERE lottery_session_id = $1 GROUP BY group_status`,
		lotterySessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("group status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.GroupStatus]int)
	for rows.Next() {
		var status model.GroupStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan group status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SlotLotteryStats counts applicants and winners per slot of a lottery.
func (q *queries) SlotLotteryStats(ctx context.Context, lotterySessionID string) ([]model.SlotLotteryStats, error) {
	rows, err := q.db.Query(ctx,
		`SELECT s.id, s.slot_number, s.max_participants,
		        COUNT(e.id),
		        COUNT(e.id) FILTER (WHERE e.status = 'won')
		 FROM lottery_sessions l
		 JOIN slots s ON s.session_id = l.parent_session_id
		 LEFT JOIN slot_entries e ON e.slot_id = s.id AND e.lottery_session_id = l.id
		 WHERE l.id = $1
		 GROUP BY s.id
		 ORDER BY s.slot_number, s.id`,
		lotterySessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("slot lottery stats: %w", err)
	}
	defer rows.Close()

	var out []model.SlotLotteryStats
	for rows.Next() {
		var st model.SlotLotteryStats
		if err := rows.Scan(&st.SlotID, &st.SlotNumber, &st.MaxParticipants, &st.Applicants, &st.Winners); err != nil {
			return nil, fmt.Errorf("scan slot lottery stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
