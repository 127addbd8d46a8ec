package logger

// Standard field names for consistent logging.
const (
	FieldService          = "service"
	FieldOperation        = "operation"
	FieldError            = "error"
	FieldUserID           = "user_id"
	FieldSlotID           = "slot_id"
	FieldBookingID        = "booking_id"
	FieldEntryGroupID     = "entry_group_id"
	FieldLotterySessionID = "lottery_session_id"
	FieldSessionID        = "session_id"
	FieldSeed             = "draw_seed"
	FieldRequestID        = "request_id"
)
