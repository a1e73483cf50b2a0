package transfer

import "fmt"

// ByteRange is an inclusive byte window [Start, End].
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by r.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// HTTPRange formats r as an HTTP Range header value.
func (r ByteRange) HTTPRange() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// PlanRanges splits size bytes into contiguous chunkSize windows. The last
// window holds the remainder. A zero size yields no ranges.
func PlanRanges(size, chunkSize int64) ([]ByteRange, error) {
	if chunkSize <= 0 {
		return nil, &ConfigurationError{Field: "chunk size", Value: chunkSize}
	}
	if size < 0 {
		return nil, &ConfigurationError{Field: "object size", Value: size}
	}

	count := (size + chunkSize - 1) / chunkSize
	ranges := make([]ByteRange, 0, count)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end >= size {
			end = size - 1
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}
	return ranges, nil
}
