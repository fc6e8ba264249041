package card

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/BoweryJG/clearverify-patient/internal/catalog"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// fuzzyThreshold is the Jaro-Winkler score a card line needs to count as an
// insurer name when no keyword matched.
const fuzzyThreshold = 0.9

// Result is what could be read off a card.
type Result struct {
	Insurance  model.InsuranceInfo `json:"insurance"`
	Confidence float64             `json:"confidence"`
	RawText    string              `json:"rawText,omitempty"`
}

var (
	labeledIDRe = regexp.MustCompile(`(?i)\b(?:member|subscriber|id)(?:\s*(?:id|#|no\.?|number))?[\s:#]*([a-z0-9]{6,15})\b`)
	prefixIDRe  = regexp.MustCompile(`(?i)\b([a-z]{2,3}\d{6,12})\b`)
	numericIDRe = regexp.MustCompile(`\b(\d{9,12})\b`)

	labeledNameRe = regexp.MustCompile(`(?im)^[ \t]*(?:member|subscriber|patient)?[ \t]*name[ \t]*:?[ \t]+(.+?)[ \t]*$`)
	commaNameRe   = regexp.MustCompile(`(?m)^[ \t]*([A-Za-z'-]{2,}),[ \t]*([A-Za-z'-]{2,})(?:[ \t]+[A-Za-z]\.?)?[ \t]*$`)

	title = cases.Title(language.English)
)

// ParseCard extracts the insurer, member ID and patient name from card
// text. Fields that cannot be found are left empty.
func ParseCard(text string, cat *catalog.Catalog) Result {
	res := Result{RawText: text}
	found := 0

	if name := insurerName(text, cat); name != "" {
		res.Insurance.InsuranceName = name
		found++
	}
	if id := MemberID(text); id != "" {
		res.Insurance.MemberID = id
		found++
	}
	if first, last := PatientName(text); last != "" {
		res.Insurance.FirstName, res.Insurance.LastName = first, last
		found++
	}
	res.Confidence = float64(found) / 3
	return res
}

func insurerName(text string, cat *catalog.Catalog) string {
	if ins, ok := cat.Insurer(text); ok {
		return ins.Name
	}

	best, bestScore := "", 0.0
	for _, line := range strings.Split(text, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		for _, ins := range cat.Insurers {
			score := matchr.JaroWinkler(line, strings.ToLower(ins.Name), false)
			if score >= fuzzyThreshold && score > bestScore {
				best, bestScore = ins.Name, score
			}
		}
	}
	return best
}

// MemberID finds the member ID on a card. Labeled IDs win over bare
// prefix-and-digits tokens, which win over long digit runs.
func MemberID(text string) string {
	for _, m := range labeledIDRe.FindAllStringSubmatch(text, -1) {
		if hasDigit(m[1]) {
			return strings.ToUpper(m[1])
		}
	}
	if m := prefixIDRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := numericIDRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// PatientName returns the cardholder's first and last name. It reads a
// "Name:" line first and falls back to a bare "LAST, FIRST" line.
func PatientName(text string) (first, last string) {
	if m := labeledNameRe.FindStringSubmatch(text); m != nil {
		if first, last = splitName(m[1]); last != "" {
			return first, last
		}
	}
	if m := commaNameRe.FindStringSubmatch(text); m != nil {
		return title.String(strings.ToLower(m[2])), title.String(strings.ToLower(m[1]))
	}
	return "", ""
}

func splitName(s string) (first, last string) {
	if l, f, ok := strings.Cut(s, ","); ok {
		fields := strings.Fields(f)
		if len(fields) == 0 || strings.TrimSpace(l) == "" {
			return "", ""
		}
		return title.String(strings.ToLower(fields[0])), title.String(strings.ToLower(strings.TrimSpace(l)))
	}
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return "", ""
	}
	return title.String(strings.ToLower(fields[0])), title.String(strings.ToLower(fields[len(fields)-1]))
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
