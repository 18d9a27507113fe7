package domain

import "time"

type StoreStatus struct {
	IsSleep      bool       `json:"is_sleep"`
	SleepMessage string     `json:"sleep_message,omitempty"`
	SleepUntil   *time.Time `json:"sleep_until,omitempty"`
	PaymentLink  string     `json:"payment_link,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// WakeDue reports whether a scheduled wake time has passed while sleeping.
func (s *StoreStatus) WakeDue(now time.Time) bool {
	return s.IsSleep && s.SleepUntil != nil && !s.SleepUntil.After(now)
}

func (s *StoreStatus) Wake(now time.Time) {
	s.IsSleep = false
	s.SleepMessage = ""
	s.SleepUntil = nil
	s.UpdatedAt = now
}

type EventKind string

const (
	EventStatus  EventKind = "status"
	EventCatalog EventKind = "catalog"
)

// Event is what the broadcaster fans out to listeners.
type Event struct {
	Kind           EventKind    `json:"kind"`
	Status         *StoreStatus `json:"status,omitempty"`
	CatalogVersion string       `json:"catalog_version,omitempty"`
	At             time.Time    `json:"at"`
}
