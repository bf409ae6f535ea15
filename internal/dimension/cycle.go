// Package dimension derives canonical candidate and committee rows, one per
// identifier per cycle, from normalized master records.
package dimension

// DeriveCycle maps a filing or election year to its two-year cycle. Odd
// years roll forward into the next even year. Years outside the range of
// the regulator's records are not derivable.
func DeriveCycle(year int) (int, bool) {
	if year < 1976 || year > 2200 {
		return 0, false
	}
	if year%2 == 1 {
		year++
	}
	return year, true
}

// pickCycle prefers the batch cycle and falls back to the row's year.
func pickCycle(batchCycle int, rowYear int64) (int, bool) {
	if batchCycle != 0 {
		return DeriveCycle(batchCycle)
	}
	return DeriveCycle(int(rowYear))
}
