package layout

import (
	"strconv"
	"strings"
)

// Key builds the address of an item id inside the given instance path,
// e.g. "hp" at path [1 3] is "hp#1.3".
func Key(id string, path []int) string {
	if len(path) == 0 {
		return id
	}

	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}

	return id + "#" + strings.Join(parts, ".")
}

// ParseKey splits a key into the item id and its instance path.
func ParseKey(key string) (string, []int, bool) {
	id, rest, found := strings.Cut(key, "#")
	if id == "" {
		return "", nil, false
	}
	if !found {
		return id, nil, true
	}

	fields := strings.Split(rest, ".")
	path := make([]int, 0, len(fields))
	for _, f := range fields {
		if !isDigits(f) {
			return "", nil, false
		}

		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, false
		}
		path = append(path, n)
	}

	return id, path, true
}

// isDigits checks if a string contains only digits.
func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return s != ""
}
