package ports

import "fibgrid/internal/domain"

// EventKind classifies a notification event.
type EventKind string

const (
	EventLevelFill     EventKind = "level_fill"     // a resting level order filled
	EventGridOpen      EventKind = "grid_open"      // two-zone grid entry
	EventGridClose     EventKind = "grid_close"     // two-zone grid exit
	EventSafetyPause   EventKind = "safety_pause"   // price left the safe range
	EventSafetyResume  EventKind = "safety_resume"  // price returned to the safe range
	EventZoneChange    EventKind = "zone_change"    // price moved between zones
	EventPositionLimit EventKind = "position_limit" // position reached the configured cap
	EventDailySummary  EventKind = "daily_summary"  // end-of-day results
	EventBotStatus     EventKind = "bot_status"     // startup/shutdown status
	EventError         EventKind = "error"          // operational error worth surfacing
)

// Event carries everything a sink needs to render one notification.
// Which fields are meaningful depends on Kind; sells carry realized PnL.
type Event struct {
	Kind     EventKind        // What happened
	Symbol   string           // Instrument the event concerns
	Side     domain.OrderSide // BUY or SELL where applicable
	Price    float64          // Execution or trigger price
	Quantity float64          // Executed quantity
	PnL      float64          // Realized profit (sells and grid closes)
	Target   int              // Target position after the event (level fills)
	Position float64          // Position after the event
	Reason   string           // Human-readable cause or detail
	Summary  *DailyStats      // Set for EventDailySummary
}

// NotificationSink delivers events to an external channel. Delivery is
// fire-and-forget: implementations log failures and must never propagate
// them into the evaluation cycle.
type NotificationSink interface {
	Notify(event Event)
}
