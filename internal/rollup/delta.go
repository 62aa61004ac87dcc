// Package rollup maintains the camp and cumulative tiers derived from
// kingdom-event aggregates.
package rollup

// Summable is a numeric field set that supports field-wise arithmetic.
type Summable[T any] interface {
	Add(T) T
	Sub(T) T
}

// ApplyDelta replaces key's contribution in breakdown with next and returns the
// adjusted total. Applying the same contribution twice leaves the total unchanged.
func ApplyDelta[K comparable, T Summable[T]](total T, breakdown map[K]T, key K, next T) T {
	prev := breakdown[key] // zero value when key has not contributed yet
	breakdown[key] = next
	return total.Sub(prev).Add(next)
}
