package ngff

import (
	"sort"
	"strconv"
	"strings"
)

// CompareKeys orders store keys so that numbered levels sort numerically:
// keys with fewer segments come first, numeric segments sort before names,
// and numeric segments compare by value ("A/2" before "A/10").
func CompareKeys(a, b string) int {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	if d := len(as) - len(bs); d != 0 {
		return d
	}
	for i := range as {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		switch {
		case aErr == nil && bErr != nil:
			return -1
		case aErr != nil && bErr == nil:
			return 1
		case aErr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return 0
}

// SortKeys sorts keys in place by CompareKeys
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		return CompareKeys(keys[i], keys[j]) < 0
	})
}
