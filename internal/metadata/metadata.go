// Package metadata encodes distribution metadata (creation time, target
// count, department) into platform fields and decodes it back from every
// encoding generation storecast has ever written.
//
// Generations, oldest first:
//
//	external-title  [external]<tag>:<count>:<postid>::<department> - <title>   (installation title)
//	pipe-v2         adhoc_v2|<createdAtMs>|<count>|<department, pipes replaced> (externalID)
//	hyphen-v2       adhoc-v2-<createdAtMs>-<count>-<alphanumeric department>    (externalID)
//	current         adhoc-<createdAtMs>                                          (externalID)
//
// The current generation keeps department and count in the post: the teaser
// reads "Department: <name> | Targeted Stores: <n>" and the kicker holds the
// department verbatim.
package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Generation names an encoding generation.
type Generation string

const (
	GenerationExternalTitle Generation = "external-title"
	GenerationPipeV2        Generation = "pipe-v2"
	GenerationHyphenV2      Generation = "hyphen-v2"
	GenerationCurrent       Generation = "current"
)

const (
	pipePrefix    = "adhoc_v2|"
	hyphenPrefix  = "adhoc-v2-"
	currentPrefix = "adhoc-"

	// DefaultPlaceholder is used when no department can be recovered.
	DefaultPlaceholder = "Uncategorized"
)

// Token is what a new distribution carries: the installation externalID
// plus the post teaser and kicker.
type Token struct {
	ExternalID string
	Teaser     string
	Kicker     string
}

// Encode produces the current-generation token.
func Encode(createdAtMs int64, targetCount int, department string) Token {
	department = strings.TrimSpace(department)
	return Token{
		ExternalID: currentPrefix + strconv.FormatInt(createdAtMs, 10),
		Teaser:     Teaser(department, targetCount),
		Kicker:     department,
	}
}

// Teaser renders the current-generation teaser text.
func Teaser(department string, targetCount int) string {
	return fmt.Sprintf("Department: %s | Targeted Stores: %d", department, targetCount)
}

// EncodeLegacy renders an externalID in one of the retired identifier
// generations. Only pipe-v2 and hyphen-v2 embed metadata in the identifier.
func EncodeLegacy(gen Generation, createdAtMs int64, targetCount int, department string) (string, error) {
	switch gen {
	case GenerationPipeV2:
		return fmt.Sprintf("%s%d|%d|%s", pipePrefix, createdAtMs, targetCount, strings.ReplaceAll(department, "|", "/")), nil
	case GenerationHyphenV2:
		return fmt.Sprintf("%s%d-%d-%s", hyphenPrefix, createdAtMs, targetCount, sanitizeAlnum(department)), nil
	default:
		return "", fmt.Errorf("generation %s has no identifier-only encoding", gen)
	}
}

func sanitizeAlnum(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// Metadata is the decoded view of a distribution.
type Metadata struct {
	Generation  Generation
	CreatedAt   time.Time
	TargetCount int
	Department  string
	// Title is set only by the external-title generation, which wraps the
	// real title in its tag.
	Title string
}

// NeedsPost reports whether department and count live in the post.
func (m Metadata) NeedsPost() bool { return m.Generation == GenerationCurrent }

// Input carries everything decode may look at.
type Input struct {
	ExternalID        string
	Title             string
	Teaser            string
	Kicker            string
	BodyHTML          string
	FallbackCreatedAt time.Time
	FallbackCount     int
	Placeholder       string
}

func (in Input) placeholder() string {
	if p := strings.TrimSpace(in.Placeholder); p != "" {
		return p
	}
	return DefaultPlaceholder
}

type decoder struct {
	gen   Generation
	match func(in Input) bool
	parse func(in Input) Metadata
}

// decoders are tried in order; the first match wins.
var decoders = []decoder{
	{gen: GenerationPipeV2, match: matchPipe, parse: parsePipe},
	{gen: GenerationHyphenV2, match: matchHyphen, parse: parseHyphen},
	{gen: GenerationCurrent, match: matchCurrent, parse: parseCurrent},
	{gen: GenerationExternalTitle, match: matchExternalTitle, parse: parseExternalTitle},
}

// Recognize identifies the generation from the externalID and title alone.
// For the current generation, department and count are provisional
// (placeholder and accessor count) until ApplyPost runs. ok is false for
// objects storecast did not create.
func Recognize(in Input) (Metadata, bool) {
	for _, d := range decoders {
		if d.match(in) {
			m := d.parse(in)
			m.Generation = d.gen
			return m, true
		}
	}
	return Metadata{}, false
}

// Decode runs recognition and, for the current generation, reads the
// department and count from the post fields in the input. It never fails
// on malformed text; unknown parts fall back to placeholders.
func Decode(in Input) (Metadata, bool) {
	m, ok := Recognize(in)
	if !ok {
		return m, false
	}
	if m.NeedsPost() {
		m = ApplyPost(m, in.Teaser, in.Kicker, in.BodyHTML, in.FallbackCount, in.placeholder())
	}
	return m, true
}

// ApplyPost fills department and count from post fields: teaser first, then
// the kicker verbatim, then the plain text of the body. Missing values fall
// back to placeholder and fallbackCount.
func ApplyPost(m Metadata, teaser, kicker, bodyHTML string, fallbackCount int, placeholder string) Metadata {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	var bodyText string
	bodyLoaded := false
	body := func() string {
		if !bodyLoaded {
			bodyText = PlainText(bodyHTML)
			bodyLoaded = true
		}
		return bodyText
	}

	dept := departmentFrom(teaser)
	if k := strings.TrimSpace(kicker); k != "" && (dept == "" || (len(k) > len(dept) && strings.HasPrefix(k, dept))) {
		// the loose pattern cut a department that itself reads "... Targeted"
		dept = k
	}
	if dept == "" && bodyHTML != "" {
		dept = departmentFrom(body())
	}
	if dept == "" {
		dept = placeholder
	}
	m.Department = dept

	count, ok := countFromTeaser(teaser)
	if !ok {
		count, ok = countFrom(teaser)
	}
	if !ok && bodyHTML != "" {
		count, ok = countFrom(body())
	}
	if !ok {
		count = fallbackCount
	}
	m.TargetCount = count
	return m
}

var (
	currentTeaser     = regexp.MustCompile(`(?s)^\s*Department:\s*(.*)\s*\|\s*Targeted Stores:\s*(\d+)\s*$`)
	departmentPattern = regexp.MustCompile(`(?is)\b(?:Category|Department)\s*:\s*(.*?)\s*(?:[|,;·•–-]\s*)?(?:\b(?:Targeted|User Count)\b|$)`)
	countPattern      = regexp.MustCompile(`(?i)\b(?:Targeted(?:\s+Stores)?|User Count)\s*:\s*(\d+)`)
	externalPattern   = regexp.MustCompile(`(?s)^\[external\]([^:]*):(\d+):([^:]*)::(.*?) - (.*)$`)
)

// departmentFrom prefers the exact current teaser layout, whose last
// "| Targeted Stores:" ends the department, over the loose legacy pattern.
func departmentFrom(text string) string {
	if m := currentTeaser.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	m := departmentPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func countFromTeaser(text string) (int, bool) {
	m := currentTeaser.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	return n, err == nil
}

func countFrom(text string) (int, bool) {
	m := countPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseMillis(s string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

func parseCount(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func orPlaceholder(dept string, in Input) string {
	if d := strings.TrimSpace(dept); d != "" {
		return d
	}
	return in.placeholder()
}

func matchPipe(in Input) bool {
	return strings.HasPrefix(in.ExternalID, pipePrefix) && strings.Count(in.ExternalID, "|") >= 3
}

func parsePipe(in Input) Metadata {
	parts := strings.Split(in.ExternalID, "|")
	return Metadata{
		CreatedAt:   parseMillis(parts[1], in.FallbackCreatedAt),
		TargetCount: parseCount(parts[2], in.FallbackCount),
		Department:  orPlaceholder(strings.Join(parts[3:], "|"), in),
	}
}

func matchHyphen(in Input) bool {
	return strings.HasPrefix(in.ExternalID, hyphenPrefix) && len(strings.SplitN(in.ExternalID, "-", 5)) == 5
}

func parseHyphen(in Input) Metadata {
	// sanitized departments never contain "-", so fixed positions hold
	parts := strings.SplitN(in.ExternalID, "-", 5)
	return Metadata{
		CreatedAt:   parseMillis(parts[2], in.FallbackCreatedAt),
		TargetCount: parseCount(parts[3], in.FallbackCount),
		Department:  orPlaceholder(parts[4], in),
	}
}

func matchCurrent(in Input) bool {
	return strings.HasPrefix(in.ExternalID, currentPrefix)
}

func parseCurrent(in Input) Metadata {
	return Metadata{
		CreatedAt:   parseMillis(strings.TrimPrefix(in.ExternalID, currentPrefix), in.FallbackCreatedAt),
		TargetCount: in.FallbackCount,
		Department:  in.placeholder(),
	}
}

func matchExternalTitle(in Input) bool {
	return externalPattern.MatchString(strings.TrimSpace(in.Title))
}

func parseExternalTitle(in Input) Metadata {
	m := externalPattern.FindStringSubmatch(strings.TrimSpace(in.Title))
	return Metadata{
		CreatedAt:   in.FallbackCreatedAt,
		TargetCount: parseCount(m[2], in.FallbackCount),
		Department:  orPlaceholder(m[4], in),
		Title:       strings.TrimSpace(m[5]),
	}
}
