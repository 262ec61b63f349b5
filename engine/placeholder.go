package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// placeholders returns the $n placeholder numbers of query in order of
// appearance, ignoring quoted text and comments.
func placeholders(query string) []int {
	var nums []int
	for i := 0; i < len(query); i++ {
		switch c := query[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(query, i, c)
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			if end := strings.IndexByte(query[i:], '\n'); end >= 0 {
				i += end
			} else {
				i = len(query)
			}
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			if end := strings.Index(query[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(query)
			}
		case c == '$':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, _ := strconv.Atoi(query[i+1 : j])
				nums = append(nums, n)
				i = j - 1
			}
		}
	}
	return nums
}

func skipQuoted(query string, start int, quote byte) int {
	for i := start + 1; i < len(query); i++ {
		if query[i] != quote {
			continue
		}
		// doubled quote is an escaped quote
		if i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(query)
}

// countArgs returns the number of distinct parameters query expects.
func countArgs(query string) int {
	highest := 0
	for _, n := range placeholders(query) {
		if n > highest {
			highest = n
		}
	}
	return highest
}

// rebindQuestion rewrites $1, $2, ... into ? markers. Every placeholder must
// appear exactly once and in order since ? markers are positional.
func rebindQuestion(query string) (string, error) {
	nums := placeholders(query)
	for i, n := range nums {
		if n != i+1 {
			return "", fmt.Errorf("%w: placeholder $%d out of order", ErrArity, n)
		}
	}

	var sb strings.Builder
	sb.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := skipQuoted(query, i, c)
			if end >= len(query) {
				end = len(query) - 1
			}
			sb.WriteString(query[i : end+1])
			i = end
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				sb.WriteString(query[i:])
				return sb.String(), nil
			}
			sb.WriteString(query[i : i+end])
			i += end - 1
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				sb.WriteString(query[i:])
				return sb.String(), nil
			}
			sb.WriteString(query[i : i+end+4])
			i += end + 3
		case c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			sb.WriteByte('?')
			i = j - 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
