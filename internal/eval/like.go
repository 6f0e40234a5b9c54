package eval

import (
	"regexp"
	"strings"
	"sync"
)

var likeCache sync.Map // pattern string -> *regexp.Regexp

// LikeMatch implements SQL LIKE: "%" matches any run of characters, "_"
// matches exactly one, "\%"/"\_"/"\\" are literal escapes.
func LikeMatch(pattern, s string) bool {
	if cached, ok := likeCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s)
	}
	re := regexp.MustCompile(likeToRegexp(pattern))
	likeCache.Store(pattern, re)
	return re.MatchString(s)
}

func likeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}
