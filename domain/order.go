package domain

// NextOrder returns the position for a task inserted into a category whose
// current maximum order is max. found reports whether the category holds any
// task at all.
//
// Two creations into the same category may observe the same maximum and end
// up with equal orders. There is no per-category lock closing that window;
// the board tolerates transient duplicates.
func NextOrder(max int, found bool) int {
	if !found {
		return 1
	}
	return max + 1
}
