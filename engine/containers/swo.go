package containers

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// FindInSortedArray performs a binary search over data, which must be sorted
// with respect to cmp. cmp is called with an element of the array and must
// return a negative value if the element orders before the key, zero if it is
// equivalent to the key and a positive value if it orders after it.
//
// If an equivalent element exists its index is returned with found set to true.
// Otherwise index is the position at which the key must be inserted to keep the
// array sorted.
func FindInSortedArray[T any](data []T, cmp func(T) int) (index int, found bool) {
	lo, hi := 0, len(data)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		order := cmp(data[mid])
		switch {
		case order < 0:
			lo = mid + 1
		case order > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// InsertSorted inserts value at the position computed by FindInSortedArray.
// Returns the new slice and the index of the inserted element. If an
// equivalent element is already present the slice is returned unchanged.
func InsertSorted[T any](data []T, value T, cmp func(T) int) ([]T, int, bool) {
	index, found := FindInSortedArray(data, cmp)
	if found {
		return data, index, false
	}
	return slices.Insert(data, index, value), index, true
}

// RemoveAt deletes the element at index, preserving order.
func RemoveAt[T any](data []T, index int) []T {
	return slices.Delete(data, index, index+1)
}

// IsSortedFunc reports whether data is strictly ordered by less.
func IsSortedFunc[T any](data []T, cmp func(a, b T) int) bool {
	for i := 1; i < len(data); i++ {
		if cmp(data[i-1], data[i]) >= 0 {
			return false
		}
	}
	return true
}

// Compare is a three way comparison of ordered values.
func Compare[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareBool orders false before true.
func CompareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// CompareSlices compares two slices element by element. A shorter slice that
// is a prefix of the longer one orders first.
func CompareSlices[T any](a, b []T, cmp func(a, b T) int) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if order := cmp(a[i], b[i]); order != 0 {
			return order
		}
	}
	return Compare(len(a), len(b))
}
