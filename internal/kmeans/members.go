package kmeans

import "github.com/RoaringBitmap/roaring"

// Members returns, for each of k clusters, the bitmap of point indices
// assigned to it.
func Members(assign []uint16, k int) []*roaring.Bitmap {
	members := make([]*roaring.Bitmap, k)
	for j := range members {
		members[j] = roaring.New()
	}
	for i, cluster := range assign {
		members[cluster].Add(uint32(i))
	}
	return members
}

// Sizes returns the number of points in each of k clusters.
func Sizes(assign []uint16, k int) []uint64 {
	sizes := make([]uint64, k)
	for j, bm := range Members(assign, k) {
		sizes[j] = bm.GetCardinality()
	}
	return sizes
}

// Equivalent reports whether a and b describe the same partition of the
// points up to a renaming of cluster labels.
func Equivalent(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	k := 0
	for i := range a {
		k = max(k, int(a[i])+1, int(b[i])+1)
	}
	left := Members(a, k)
	right := Members(b, k)

	used := make([]bool, k)
	for _, bm := range left {
		if bm.IsEmpty() {
			continue
		}
		// The first member's label in b names the only candidate partner.
		partner := b[bm.Minimum()]
		if used[partner] || !bm.Equals(right[partner]) {
			return false
		}
		used[partner] = true
	}
	return true
}
