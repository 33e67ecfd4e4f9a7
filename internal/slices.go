package internal

// SliceReuse truncates *buf to zero length keeping its storage if it can hold n
// elements, otherwise it allocates exactly n. Unlike [slices.Grow] the resulting
// capacity is the same under Go and TinyGo.
func SliceReuse[T any](buf *[]T, n int) {
	if cap(*buf) < n {
		*buf = make([]T, 0, n)
	} else {
		*buf = (*buf)[:0]
	}
}

// SliceReclaim grows *ptr by one element and returns a pointer to it. The element
// is whatever a previous use of the backing array left there; callers must overwrite it.
func SliceReclaim[T any](ptr *[]T) *T {
	b := *ptr
	n := len(b)
	if n == cap(b) {
		var z T
		*ptr = append(b, z)
	} else {
		*ptr = b[:n+1]
	}
	return &(*ptr)[n]
}
