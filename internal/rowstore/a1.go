package rowstore

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseA1 converts a spreadsheet reference such as "B20" into zero-based
// row and column indexes.
func ParseA1(ref string) (row, col int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("invalid A1 reference %q", ref)
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("invalid A1 reference %q", ref)
	}
	return n - 1, col - 1, nil
}

// CellRangeA1 returns the single-cell range for an A1 reference.
func CellRangeA1(ref string) (CellRange, error) {
	row, col, err := ParseA1(ref)
	if err != nil {
		return CellRange{}, err
	}
	return CellRange{Row0: row, Col0: col, Row1: row + 1, Col1: col + 1}, nil
}
