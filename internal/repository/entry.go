package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/jackc/pgx/v5"
)

const slotEntryColumns = `id, entry_group_id, lottery_session_id, slot_id, user_id, status,
	lottery_weight, preferred_model_id, cheki_unsigned_count, cheki_signed_count, created_at`

func scanSlotEntry(row pgx.Row) (model.SlotEntry, error) {
	var e model.SlotEntry
	err := row.Scan(&e.ID, &e.EntryGroupID, &e.LotterySessionID, &e.SlotID, &e.UserID, &e.Status,
		&e.LotteryWeight, &e.PreferredModelID, &e.ChekiUnsignedCount, &e.ChekiSignedCount, &e.CreatedAt)
	return e, err
}

// InsertEntryGroup creates the group row. A second group for the same user
// and lottery session fails on the unique constraint with ErrDuplicateEntry,
// which is how concurrent double submissions are resolved.
func (q *queries) InsertEntryGroup(ctx context.Context, g *model.EntryGroup) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO entry_groups
		   (id, lottery_session_id, user_id, cancellation_policy, total_slots_applied,
		    group_status, update_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.LotterySessionID, g.UserID, g.CancellationPolicy, g.TotalSlotsApplied,
		g.GroupStatus, g.UpdateCount, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintEntryGroupUser) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert entry group: %w", err)
	}
	return nil
}

// InsertSlotEntries writes a group's entries in one batched round trip.
func (q *queries) InsertSlotEntries(ctx context.Context, entries []model.SlotEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO slot_entries (`+slotEntryColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.EntryGroupID, e.LotterySessionID, e.SlotID, e.UserID, e.Status,
			e.LotteryWeight, e.PreferredModelID, e.ChekiUnsignedCount, e.ChekiSignedCount, e.CreatedAt,
		)
	}
	if err := q.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert slot entries: %w", err)
	}
	return nil
}

// GetEntryGroup returns a group with its entries or ErrNotFound.
func (q *queries) GetEntryGroup(ctx context.Context, id string) (*model.EntryGroup, error) {
	var g model.EntryGroup
	err := q.db.QueryRow(ctx,
		`SELECT id, lottery_session_id, user_id, cancellation_policy, total_slots_applied,
		        group_status, update_count, created_at, updated_at
		 FROM entry_groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.LotterySessionID, &g.UserID, &g.CancellationPolicy, &g.TotalSlotsApplied,
		&g.GroupStatus, &g.UpdateCount, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get entry group")
	}

	rows, err := q.db.Query(ctx,
		`SELECT `+slotEntryColumns+` FROM slot_entries
		 WHERE entry_group_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list slot entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanSlotEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot entry: %w", err)
		}
		g.Entries = append(g.Entries, e)
	}
	return &g, rows.Err()
}

// ListEntryGroups returns every group of a lottery session with its entries,
// ordered by group id.
func (q *queries) ListEntryGroups(ctx context.Context, lotterySessionID string) ([]model.EntryGroup, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, lottery_session_id, user_id, cancellation_policy, total_slots_applied,
		        group_status, update_count, created_at, updated_at
		 FROM entry_groups WHERE lottery_session_id = $1 ORDER BY id`,
		lotterySessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entry groups: %w", err)
	}
	var groups []model.EntryGroup
	index := make(map[string]int)
	for rows.Next() {
		var g model.EntryGroup
		if err := rows.Scan(&g.ID, &g.LotterySessionID, &g.UserID, &g.CancellationPolicy, &g.TotalSlotsApplied,
			&g.GroupStatus, &g.UpdateCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry group: %w", err)
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entry groups: %w", err)
	}

	entryRows, err := q.db.Query(ctx,
		`SELECT `+slotEntryColumns+` FROM slot_entries
		 WHERE lottery_session_id = $1 ORDER BY created_at, id`, lotterySessionID)
	if err != nil {
		return nil, fmt.Errorf("list slot entries: %w", err)
	}
	defer entryRows.Close()
	for entryRows.Next() {
		e, err := scanSlotEntry(entryRows)
		if err != nil {
			return nil, fmt.Errorf("scan slot entry: %w", err)
		}
		if i, ok := index[e.EntryGroupID]; ok {
			groups[i].Entries = append(groups[i].Entries, e)
		}
	}
	return groups, entryRows.Err()
}

// IncrementUpdateCount is the edit-limit CAS: it bumps update_count only while
// it is below the limit, and records the new policy and slot total in the
// same statement.
func (q *queries) IncrementUpdateCount(ctx context.Context, id string, policy model.CancellationPolicy, totalSlots int, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE entry_groups
		 SET update_count = update_count + 1, cancellation_policy = $2,
		     total_slots_applied = $3, updated_at = $4
		 WHERE id = $1 AND update_count < $5`,
		id, policy, totalSlots, now, model.MaxEntryUpdates,
	)
	if err != nil {
		return false, fmt.Errorf("increment update count: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteSlotEntries removes every entry of a group.
func (q *queries) DeleteSlotEntries(ctx context.Context, groupID string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM slot_entries WHERE entry_group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete slot entries: %w", err)
	}
	return nil
}

// GetSlotEntry returns one entry or ErrNotFound.
func (q *queries) GetSlotEntry(ctx context.Context, id string) (*model.SlotEntry, error) {
	e, err := scanSlotEntry(q.db.QueryRow(ctx,
		`SELECT `+slotEntryColumns+` FROM slot_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get slot entry")
	}
	return &e, nil
}

// SetEntryWeight changes an entry's lottery weight.
func (q *queries) SetEntryWeight(ctx context.Context, id string, weight float64) error {
	tag, err := q.db.Exec(ctx, `UPDATE slot_entries SET lottery_weight = $2 WHERE id = $1`, id, weight)
	if err != nil {
		return fmt.Errorf("set entry weight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEntryStatuses writes draw outcomes for many entries in one statement.
func (q *queries) SetEntryStatuses(ctx context.Context, statuses map[string]model.EntryStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	ids := make([]string, 0, len(statuses))
	values := make([]string, 0, len(statuses))
	for id, st := range statuses {
		ids = append(ids, id)
		values = append(values, string(st))
	}
	_, err := q.db.Exec(ctx,
		`UPDATE slot_entries AS e SET status = v.status
		 FROM unnest($1::text[], $2::text[]) AS v(id, status)
		 WHERE e.id = v.id::uuid`,
		ids, values,
	)
	if err != nil {
		return fmt.Errorf("set entry statuses: %w", err)
	}
	return nil
}

// SetGroupStatuses writes reconciled group outcomes in one statement.
func (q *queries) SetGroupStatuses(ctx context.Context, statuses map[string]model.GroupStatus, now time.Time) error {
	if len(statuses) == 0 {
		return nil
	}
	ids := make([]string, 0, len(statuses))
	values := make([]string, 0, len(statuses))
	for id, st := range statuses {
		ids = append(ids, id)
		values = append(values, string(st))
	}
	_, err := q.db.Exec(ctx,
		`UPDATE entry_groups AS g SET group_status = v.status, updated_at = $3
		 FROM unnest($1::text[], $2::text[]) AS v(id, status)
		 WHERE g.id = v.id::uuid`,
		ids, values, now,
	)
	if err != nil {
		return fmt.Errorf("set group statuses: %w", err)
	}
	return nil
}
