package extract

// Strategy is one way of reading a field from a snapshot. Fn reports false
// when the strategy found nothing usable.
type Strategy[T any] struct {
	Name string
	Fn   func(*Snapshot) (T, bool)
}

// First evaluates strategies in order and returns the first value found
// together with the winning strategy's name.
func First[T any](s *Snapshot, strategies []Strategy[T]) (T, string, bool) {
	for _, st := range strategies {
		if v, ok := st.Fn(s); ok {
			return v, st.Name, true
		}
	}
	var zero T
	return zero, "", false
}
