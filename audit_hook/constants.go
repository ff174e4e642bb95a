package audithook

// Action constants for audit events.
const (
	// Stock actions
	ActionRollAdded    = "roll.added"
	ActionRollConsumed = "roll.consumed"
	ActionRollReverted = "roll.reverted"

	// Consumption record actions
	ActionRecordRescheduled = "record.rescheduled"
	ActionRecordReassigned  = "record.reassigned"

	// Order actions
	ActionOrderCreated    = "order.created"
	ActionOrdersBackfill  = "order.backfilled"
	ActionOrderReordered  = "order.reordered"
	ActionOrderCompleted  = "order.completed"
	ActionOrderDeleted    = "order.deleted"
	ActionCommandConflict = "command.conflict"
)

// Resource constants for audit events.
const (
	ResourceRoll    = "roll"
	ResourceRecord  = "consumption_record"
	ResourceOrder   = "order"
	ResourceCommand = "command"
)

// Category constants for audit events.
const (
	CategoryStock    = "stock"
	CategoryAudit    = "audit"
	CategoryPlanning = "planning"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
