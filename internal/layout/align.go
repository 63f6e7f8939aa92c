package layout

func isPowerOf2OrZero(v int64) bool {
	return v >= 0 && v&(v-1) == 0
}

// alignTo rounds v up to a multiple of align. An align of 0 or 1 is a no-op.
func alignTo(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

func bitsToBytes(bits int64) int64 { return bits / CharWidth }

func bytesToBits(n int64) int64 { return n * CharWidth }

func plural(n int64, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
