// Package signal extracts normalized scam signals from raw transcript text.
//
// Normalization is a pure function over a fixed signal taxonomy: the same
// input always yields the same signals, independent of the vector index and
// of any per-call state. Each signal records the taxonomy term that fired
// and the byte span in the input where it was found, so downstream risk
// assessments stay explainable.
//
// Authority-impersonation terms get a second, phonetic pass: transcription
// output routinely mangles short agency names ("IRS" arriving as "iris"),
// so bare tokens are compared against the authority vocabulary using Double
// Metaphone codes ranked by Jaro-Winkler similarity.
package signal

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Flag identifies one entry of the fixed signal taxonomy.
type Flag string

const (
	FlagUrgency         Flag = "urgency"
	FlagAuthority       Flag = "authority"
	FlagSensitiveInfo   Flag = "sensitive_info"
	FlagPaymentMethod   Flag = "payment_method"
	FlagSecrecy         Flag = "secrecy"
	FlagFamilyEmergency Flag = "family_emergency"
)

// Weight returns the scoring weight of the flag. Unknown flags weigh 0.
func (f Flag) Weight() float64 { return flagWeights[f] }

// Signal is one normalized marker extracted from a transcript chunk.
// Start and End delimit the matched byte span in the original input.
type Signal struct {
	Flag   Flag
	Term   string
	Start  int
	End    int
	Weight float64
}

// phoneticThreshold is the minimum Jaro-Winkler score required for a
// phonetically-overlapping token to be accepted as an authority term.
const phoneticThreshold = 0.80

// Normalize extracts all taxonomy signals present in text. It never fails:
// arbitrary, truncated, or empty input yields an empty slice. A given
// (flag, term) pair is reported at most once, at its first occurrence.
func Normalize(text string) []Signal {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// ASCII-only lowering keeps byte offsets identical to the input.
	lower := lowerASCII(text)

	var out []Signal
	seen := make(map[Flag]map[string]bool)

	emit := func(flag Flag, term string, start, end int) {
		if seen[flag] == nil {
			seen[flag] = make(map[string]bool)
		}
		if seen[flag][term] {
			return
		}
		seen[flag][term] = true
		out = append(out, Signal{
			Flag:   flag,
			Term:   term,
			Start:  start,
			End:    end,
			Weight: flag.Weight(),
		})
	}

	for _, flag := range allFlags {
		for _, term := range taxonomy[flag] {
			if start := indexWord(lower, term); start >= 0 {
				emit(flag, term, start, start+len(term))
			}
		}
	}

	// Phonetic pass for misheard authority names.
	for _, tok := range tokenize(lower) {
		if name, ok := matchAuthority(tok.text); ok {
			emit(FlagAuthority, name, tok.start, tok.start+len(tok.text))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		if out[i].Flag != out[j].Flag {
			return out[i].Flag < out[j].Flag
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// matchAuthority tests a single transcript token against the authority
// vocabulary. A candidate must share a Double Metaphone code with the
// authority name and score at least phoneticThreshold on Jaro-Winkler.
// Exact taxonomy hits are handled by the literal pass, so equality is
// skipped here.
func matchAuthority(token string) (name string, ok bool) {
	if len(token) < 3 {
		return "", false
	}
	tp, ts := matchr.DoubleMetaphone(token)

	var best float64
	for _, auth := range authorityNames {
		if token == auth {
			continue
		}
		ap, as := matchr.DoubleMetaphone(auth)
		if !codesOverlap(tp, ts, ap, as) {
			continue
		}
		if score := matchr.JaroWinkler(token, auth, false); score >= phoneticThreshold && score > best {
			best = score
			name = auth
		}
	}
	return name, name != ""
}

// codesOverlap reports whether the two Double Metaphone code pairs share at
// least one non-empty code.
func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range [2]string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}

// indexWord finds term in text at a word boundary and returns the byte
// offset of the first such occurrence, or -1.
func indexWord(text, term string) int {
	from := 0
	for {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return start
		}
		from = start + 1
	}
}

func boundaryBefore(text string, i int) bool {
	return i == 0 || !isWordByte(text[i-1])
}

func boundaryAfter(text string, i int) bool {
	return i >= len(text) || !isWordByte(text[i])
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

type token struct {
	text  string
	start int
}

// tokenize splits text into word tokens with byte offsets. Apostrophes are
// treated as word bytes so contractions stay whole.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i := 0; i < len(text); i++ {
		b := text[i]
		if isWordByte(b) || b == '\'' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{text: text[start:i], start: start})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: text[start:], start: start})
	}
	return toks
}

// lowerASCII lowercases A-Z in place of strings.ToLower so that byte
// offsets into the result are valid offsets into the input.
func lowerASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
