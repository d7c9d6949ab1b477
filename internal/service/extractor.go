package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

// Extractor maps one free-form answer onto the currently missing fields.
// It never fails: an empty map means nothing usable was found.
type Extractor interface {
	Extract(text string, qs *domain.QuoteSession) map[string]string
}

var (
	streetPattern = regexp.MustCompile(`(?i)\b(street|st|road|rd|avenue|ave|drive|dr|lane|ln|court|ct|place|pl|boulevard|blvd|way|crescent|cres|parade|pde|highway|hwy)\b`)
	numberPattern = regexp.MustCompile(`\b(\d{1,4})\b`)
	wordPattern   = regexp.MustCompile(`[a-z]+`)
)

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	"single": 1, "couple": 2, "dozen": 12,
}

var countMarkers = []string{"count", "number", "quantity", "rooms", "items"}

// isCountField reports whether a field holds a quantity.
func isCountField(field string) bool {
	f := strings.ToLower(field)
	if strings.Contains(f, "phone") {
		return false
	}
	for _, m := range countMarkers {
		if strings.Contains(f, m) {
			return true
		}
	}
	return false
}

// KeywordExtractor is the lightweight rule set:
//   - a street-type keyword fills the next missing address field with the
//     whole answer, and suppresses number extraction for that answer;
//   - otherwise a digit run or number word fills the next missing
//     count-like field;
//   - option keywords fill any missing field that declares options;
//   - if nothing else matched, the field being asked about takes the
//     answer verbatim when it is a free-text basic field.
type KeywordExtractor struct{}

// Extract implements Extractor.
func (KeywordExtractor) Extract(text string, qs *domain.QuoteSession) map[string]string {
	out := make(map[string]string)
	answer := strings.TrimSpace(text)
	if answer == "" || qs == nil || len(qs.MissingRequirements) == 0 {
		return out
	}

	missing := make([]domain.RequirementSpec, 0, len(qs.MissingRequirements))
	for _, f := range qs.MissingRequirements {
		if spec, ok := qs.Requirement(f); ok {
			missing = append(missing, spec)
		}
	}

	addressMatched := false
	if streetPattern.MatchString(answer) {
		for _, spec := range missing {
			if spec.Kind == domain.FieldAddress {
				out[spec.Field] = strings.TrimRight(answer, ".!? ")
				addressMatched = true
				break
			}
		}
	}

	if !addressMatched {
		if n, ok := extractNumber(answer); ok {
			for _, spec := range missing {
				if isCountField(spec.Field) && len(spec.Options) == 0 {
					out[spec.Field] = strconv.Itoa(n)
					break
				}
			}
		}
	}

	for _, spec := range missing {
		if len(spec.Options) == 0 {
			continue
		}
		if _, done := out[spec.Field]; done {
			continue
		}
		if opt, ok := matchOption(answer, spec.Options); ok {
			out[spec.Field] = opt
		}
	}

	if len(out) == 0 {
		current := missing[0]
		if current.Kind == domain.FieldBasic && len(current.Options) == 0 && !isCountField(current.Field) {
			out[current.Field] = answer
		}
	}
	return out
}

func extractNumber(text string) (int, bool) {
	if m := numberPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if n, ok := numberWords[w]; ok {
			return n, true
		}
	}
	return 0, false
}

func matchOption(text string, options []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, opt := range options {
		o := strings.ToLower(strings.TrimSpace(opt))
		if o == "" {
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(o) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(lower) {
			return opt, true
		}
	}
	return "", false
}
