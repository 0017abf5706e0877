// Package genealogy mines structured person entries out of recognized page
// text. The patterns target classical Chinese family registers: generation
// markers, courtesy names, birth and death phrases, burial places.
package genealogy

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

// Entry is one person record mined from a page.
type Entry struct {
	EntryID string `json:"entryId"`
	PageID  string `json:"pageId"`
	TaskID  string `json:"taskId"`
	BookID  string `json:"bookId"`

	Generation   *int   `json:"generation,omitempty"`
	Surname      string `json:"surname,omitempty"`
	GivenName    string `json:"givenName,omitempty"`
	CourtesyName string `json:"courtesyName,omitempty"` // 字
	ArtName      string `json:"artName,omitempty"`      // 号
	MilkName     string `json:"milkName,omitempty"`     // 乳名

	BirthDate      string `json:"birthDate,omitempty"`
	DeathDate      string `json:"deathDate,omitempty"`
	BurialLocation string `json:"burialLocation,omitempty"`
	Village        string `json:"village,omitempty"`

	Spouses  []string `json:"spouses,omitempty"`
	Children []string `json:"children,omitempty"`

	SourceSnippet string  `json:"sourceSnippet"`
	SourceVolume  string  `json:"sourceVolume,omitempty"`
	SourcePage    *int    `json:"sourcePage,omitempty"`
	Confidence    float64 `json:"confidence"`
}

var (
	generationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`第(\d+)世`),
		regexp.MustCompile(`(\d+)代`),
	}

	courtesyRe = regexp.MustCompile(`字([\p{Han}]{1,3})`)
	artNameRe  = regexp.MustCompile(`号([\p{Han}]{1,3})`)
	milkNameRe = regexp.MustCompile(`乳名([\p{Han}]{1,3})`)

	birthRe  = regexp.MustCompile(`生于([\p{Han}\d]{2,20})`)
	deathRe  = regexp.MustCompile(`卒于([\p{Han}\d]{2,20})`)
	burialRe = regexp.MustCompile(`葬于?([\p{Han}\d]{2,30})`)

	spouseRe = regexp.MustCompile(`(?:配偶|配|妻)([\p{Han}]{1,4}氏?)`)
	childRe  = regexp.MustCompile(`(?:长|次|三|四|五|六|七|八|九)子([\p{Han}]{1,3})`)

	villageRe = regexp.MustCompile(`([\p{Han}]{2,10})(?:村|镇|洞|岭)`)

	// 常见姓氏开头的 "姓+名" 组合
	surnameRe = regexp.MustCompile(`^([赵钱孙李周吴郑王冯陈蒋沈韩杨朱秦许何吕施张孔曹严华金魏陶姜谢邹苏潘范彭鲁马袁唐薛雷贺罗毕郝安常于时傅齐康伍余元顾孟平黄萧尹姚邵汪毛狄米贝明成戴宋茅庞熊纪舒屈项祝董梁杜阮蓝贾江颜郭梅林刁钟徐邱骆高夏蔡田樊胡霍万柯卢莫房干解应宗丁宣邓郁单杭洪包诸左石崔吉龚])([\p{Han}]{1,3}?)(?:公|郎|君|$|,|，|。)`)
)

// Parser 族谱条目解析器
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParsePage mines person entries out of one recognized page. Lines are
// grouped into candidate entries at blank lines and generation markers;
// groups that yield neither a surname nor a given name are dropped.
func (p *Parser) ParsePage(page *models.PageResult) []*Entry {
	if !page.Success || page.RawText == "" {
		return nil
	}

	var entries []*Entry
	for _, group := range groupLines(strings.Split(page.RawText, "\n")) {
		if entry := p.parseEntry(page, group); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

// groupLines splits page lines into person groups. A blank line or a line
// carrying a generation marker starts a new group.
func groupLines(lines []string) [][]string {
	var groups [][]string
	var current []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			continue
		}
		if isEntryStart(line) && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func isEntryStart(line string) bool {
	for _, re := range generationPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (p *Parser) parseEntry(page *models.PageResult, group []string) *Entry {
	text := strings.Join(group, "\n")

	entry := &Entry{
		EntryID:       uuid.New().String(),
		PageID:        page.PageID,
		TaskID:        page.TaskID,
		BookID:        page.BookID,
		SourceSnippet: snippet(text, 500),
		SourceVolume:  page.Volume,
		SourcePage:    page.PageNumber,
		Confidence:    page.Confidence,
	}

	entry.Generation = extractGeneration(text)

	if surname, given := extractName(group); surname != "" {
		entry.Surname = surname
		entry.GivenName = given
	}
	if m := courtesyRe.FindStringSubmatch(text); m != nil {
		entry.CourtesyName = m[1]
	}
	if m := artNameRe.FindStringSubmatch(text); m != nil {
		entry.ArtName = m[1]
	}
	if m := milkNameRe.FindStringSubmatch(text); m != nil {
		entry.MilkName = m[1]
		if entry.GivenName == "" {
			entry.GivenName = m[1]
		}
	}

	if m := birthRe.FindStringSubmatch(text); m != nil {
		entry.BirthDate = m[1]
	}
	if m := deathRe.FindStringSubmatch(text); m != nil {
		entry.DeathDate = m[1]
	}
	if m := burialRe.FindStringSubmatch(text); m != nil {
		entry.BurialLocation = m[1]
	}
	if m := villageRe.FindStringSubmatch(text); m != nil {
		entry.Village = m[1]
	}

	for _, m := range spouseRe.FindAllStringSubmatch(text, -1) {
		entry.Spouses = append(entry.Spouses, m[1])
	}
	for _, m := range childRe.FindAllStringSubmatch(text, -1) {
		entry.Children = append(entry.Children, m[1])
	}

	if entry.Surname == "" && entry.GivenName == "" {
		return nil
	}
	return entry
}

// extractName tries the surname pattern against every whitespace-separated
// token, first match wins.
func extractName(group []string) (surname, given string) {
	for _, line := range group {
		for _, token := range strings.Fields(line) {
			if m := surnameRe.FindStringSubmatch(token); m != nil {
				return m[1], m[2]
			}
		}
	}
	return "", ""
}

func extractGeneration(text string) *int {
	for _, re := range generationPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

// snippet truncates on rune boundaries.
func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
