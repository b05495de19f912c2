package text

const ellipsis = "..."

// Truncate 按字符（rune）截断，结果总长度不超过 max（含省略号）。
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
