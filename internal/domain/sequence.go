package domain

import "context"

const (
	// CounterAnnotationRecord mints annotation record ids
	CounterAnnotationRecord = "annotation_record_id"

	// CounterDataset mints dataset ids
	CounterDataset = "dataset_id"
)

// CounterRepository is a persisted mapping from counter name to value
type CounterRepository interface {
	// Increment atomically adds one to the counter, creating it at zero
	// first if needed, and returns the new value
	Increment(ctx context.Context, name string) (int64, error)

	// Current returns the counter value without changing it, 0 when absent
	Current(ctx context.Context, name string) (int64, error)

	// SeedAtLeast raises the counter to value if it is lower. It never lowers it.
	SeedAtLeast(ctx context.Context, name string, value int64) error

	// Set overwrites the counter. Administrative, not safe under concurrent increments.
	Set(ctx context.Context, name string, value int64) error
}

// MaxCounterNameLength bounds counter names, which end up as rows and metric labels
const MaxCounterNameLength = 64

// ValidateCounterName accepts 1 to MaxCounterNameLength ASCII letters,
// digits, '_', '-' and '.'
func ValidateCounterName(name string) error {
	if name == "" {
		return InvalidArgument("counter name is empty")
	}
	if len(name) > MaxCounterNameLength {
		return InvalidArgument("counter name is longer than %d bytes", MaxCounterNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return InvalidArgument("counter name %q has a forbidden character %q", name, r)
		}
	}
	return nil
}
