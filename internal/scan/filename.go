package scan

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// namePattern pairs a regexp with the extractor applied to its submatches.
// Patterns are tried in order; the first match wins.
type namePattern struct {
	re      *regexp.Regexp
	extract func(groups []string) (volume string, page *int)
	// fullName patterns run against the name with its extension; the rest
	// run against the extension-stripped stem.
	fullName bool
}

func volumePage(groups []string) (string, *int) {
	return groups[1], atoiPtr(groups[2])
}

func pageOnly(groups []string) (string, *int) {
	return "", atoiPtr(groups[1])
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// 常见族谱扫描件命名模式
var namePatterns = []namePattern{
	// 卷1_001.jpg 形式（数字卷号, 百/万 吸收 卷 的常见误识）
	{re: regexp.MustCompile(`[百万卷](\d+)[_\-.](\d+)`), extract: volumePage},
	// volume1_page001.jpg
	{re: regexp.MustCompile(`(?i)volume(\d+)[_\-.]page(\d+)`), extract: volumePage},
	// v1_p001.jpg, v2-p005.jpg
	{re: regexp.MustCompile(`(?i)v(\d+)[_\-.]p(\d+)`), extract: volumePage},
	// 李氏族谱_卷一_第001页.jpg （卷号不含分隔符）
	{re: regexp.MustCompile(`卷([^_\-.]+?)[_\-.]?第(\d+)[页张]`), extract: volumePage},
	// 001.jpg （纯页码）
	{re: regexp.MustCompile(`^(\d+)`), extract: pageOnly},
	// page-001.jpg
	{re: regexp.MustCompile(`(?i)page[\-_]?(\d+)`), extract: pageOnly},
	// 扫描件_001.jpg （扩展名前的尾部编号）
	{re: regexp.MustCompile(`(?i)[\-_](\d+)\.(jpg|jpeg|png|bmp|pdf)$`), extract: pageOnly, fullName: true},
}

// ParseFileName infers (volume, page) from a scan file name. Both results
// may be absent; that is not an error and callers must tolerate it.
func ParseFileName(name string) (volume string, page *int) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	for _, p := range namePatterns {
		subject := stem
		if p.fullName {
			subject = base
		}
		if groups := p.re.FindStringSubmatch(subject); groups != nil {
			return p.extract(groups)
		}
	}
	return "", nil
}
