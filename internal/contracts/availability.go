package contracts

import "encoding/json"

// Availability is the single presence marker used across the pipeline.
// The zero value is Unavailable with an empty reason.
type Availability[T any] struct {
	value  T
	ok     bool
	reason string
}

// Available wraps a present value
func Available[T any](v T) Availability[T] {
	return Availability[T]{value: v, ok: true}
}

// Unavailable marks a value as absent with a human-readable reason
func Unavailable[T any](reason string) Availability[T] {
	return Availability[T]{reason: reason}
}

// Get returns the value and whether it is present
func (a Availability[T]) Get() (T, bool) {
	return a.value, a.ok
}

// IsAvailable reports presence
func (a Availability[T]) IsAvailable() bool {
	return a.ok
}

// Reason explains why a value is unavailable ("" when available)
func (a Availability[T]) Reason() string {
	return a.reason
}

type availabilityJSON[T any] struct {
	Available bool   `json:"available"`
	Value     *T     `json:"value,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// MarshalJSON renders {"available":true,"value":...} or {"available":false,"reason":...}
func (a Availability[T]) MarshalJSON() ([]byte, error) {
	out := availabilityJSON[T]{Available: a.ok, Reason: a.reason}
	if a.ok {
		v := a.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the MarshalJSON shape
func (a *Availability[T]) UnmarshalJSON(data []byte) error {
	var in availabilityJSON[T]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Available && in.Value != nil {
		*a = Available(*in.Value)
		return nil
	}
	*a = Unavailable[T](in.Reason)
	return nil
}
