package domain

// AlarmState is the state reported by an external monitoring source.
type AlarmState string

// Alarm states as delivered by the monitoring source.
const (
	AlarmStateAlarm            AlarmState = "ALARM"
	AlarmStateOK               AlarmState = "OK"
	AlarmStateInsufficientData AlarmState = "INSUFFICIENT_DATA"
)

// AlarmEvent is the canonical form of an external alarm notification.
// Only ALARM transitions produce incidents; the other states are
// acknowledged and dropped.
type AlarmEvent struct {
	AlarmName   string     `json:"alarm_name"`
	ExternalRef string     `json:"external_ref"`
	NewState    AlarmState `json:"new_state"`
	Reason      string     `json:"reason"`
	AccountID   string     `json:"account_id"`
	Severity    Severity   `json:"severity"`
}
