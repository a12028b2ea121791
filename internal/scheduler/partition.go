package scheduler

// Span is a half-open range [Start, End) of the pending list
type Span struct {
	Start int
	End   int
}

// Len returns the number of recipients in the span
func (s Span) Len() int {
	return s.End - s.Start
}

// Partition splits n items into consecutive spans of size, the last one
// possibly shorter. A non-positive size yields a single span.
func Partition(n, size int) []Span {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	spans := make([]Span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		spans = append(spans, Span{Start: start, End: min(start+size, n)})
	}
	return spans
}
