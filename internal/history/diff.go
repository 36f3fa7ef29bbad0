package history

import "strings"

// DiffLine is a single line in a computed diff.
type DiffLine struct {
	Type    string `json:"type"` // "added", "removed", "unchanged"
	Content string `json:"content"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Diff performs a line-by-line diff between two documents using LCS.
func Diff(oldContent, newContent string) []DiffLine {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	lcs := lcsMatrix(oldLines, newLines)
	return backtrackDiff(oldLines, newLines, lcs)
}

func lcsMatrix(a, b []string) [][]int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}
	return dp
}

func backtrackDiff(oldLines, newLines []string, lcs [][]int) []DiffLine {
	var result []DiffLine
	i, j := len(oldLines), len(newLines)
	oldLineNum, newLineNum := len(oldLines), len(newLines)

	var stack []DiffLine
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && oldLines[i-1] == newLines[j-1] {
			stack = append(stack, DiffLine{
				Type:    "unchanged",
				Content: oldLines[i-1],
				OldLine: oldLineNum,
				NewLine: newLineNum,
			})
			i--
			j--
			oldLineNum--
			newLineNum--
		} else if j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]) {
			stack = append(stack, DiffLine{
				Type:    "added",
				Content: newLines[j-1],
				NewLine: newLineNum,
			})
			j--
			newLineNum--
		} else if i > 0 {
			stack = append(stack, DiffLine{
				Type:    "removed",
				Content: oldLines[i-1],
				OldLine: oldLineNum,
			})
			i--
			oldLineNum--
		}
	}

	for k := len(stack) - 1; k >= 0; k-- {
		result = append(result, stack[k])
	}

	return result
}
