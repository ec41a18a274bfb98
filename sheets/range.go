package sheets

import "fmt"

// columnLetter converts a 1-based column number to its A1 letter form
// (1 -> A, 26 -> Z, 27 -> AA).
func columnLetter(n int) string {
	var s string
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}

// headerRange is the physical range of the header row.
func headerRange(sheet string, width int) string {
	return fmt.Sprintf("%s!A1:%s1", sheet, columnLetter(width))
}

// dataRange is the open-ended physical range of all data rows (row 2 down).
func dataRange(sheet string, width int) string {
	return fmt.Sprintf("%s!A2:%s", sheet, columnLetter(width))
}

// rowRange is the physical range of the data row at the 0-based logical
// index: one header row plus the store's 1-based origin.
func rowRange(sheet string, index, width int) string {
	row := index + 2
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, columnLetter(width), row)
}

// padRow extends row with empty cells up to width. Longer rows are returned
// unchanged.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
