package meetings

import (
	"crypto/rand"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugBase   = 50
	slugSuffixLen = 6
	slugAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	fallbackSlug  = "meeting"
)

// Slugify 标题转 URL 片段：去除重音、转小写、非字母数字折叠为单个 "-"
func Slugify(title string) string {
	// transform.Chain 有状态，每次调用新建
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := b.String()
	if len(slug) > maxSlugBase {
		slug = strings.TrimRight(slug[:maxSlugBase], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// NewSlug slugify(title) + "-" + 6 位随机 base36 后缀
func NewSlug(title string) string {
	return Slugify(title) + "-" + randomSuffix(slugSuffixLen)
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, c := range buf {
		buf[i] = slugAlphabet[int(c)%len(slugAlphabet)]
	}
	return string(buf)
}
