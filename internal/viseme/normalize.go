package viseme

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// quirkReplacer undoes the shorthand emitted by Kokoro/misaki phonemizers:
// uppercase letters stand for diphthongs and the American flap, and a few
// ligatures replace two-letter affricates.
var quirkReplacer = strings.NewReplacer(
	"A", "eɪ",
	"I", "aɪ",
	"O", "oʊ",
	"W", "aʊ",
	"Y", "ɔɪ",
	"Q", "əʊ",
	"T", "ɾ",
	"ᵊ", "ə",
	"ᵻ", "ɪ",
	"ʧ", "tʃ",
	"ʤ", "dʒ",
	"ʦ", "ts",
	"ʣ", "dz",
	"ɡ", "g",
)

// rhoticReplacer splits r-colored vowels into vowel + rhotic.
var rhoticReplacer = strings.NewReplacer(
	"ɚ", "əɹ",
	"ɝ", "ɜɹ",
	"˞", "ɹ",
)

// stripMarks removes combining diacritics (tie bars, nasalization, syllabic
// marks) and recomposes what is left.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize cleans a raw phonetic string so Tokenize only sees base IPA
// letters.
func Normalize(ipa string) string {
	s := norm.NFD.String(ipa)
	s = quirkReplacer.Replace(s)
	s = rhoticReplacer.Replace(s)

	s, _, err := transform.String(stripMarks, s)
	if err != nil {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case isProsodyMark(r), unicode.IsSpace(r):
			continue
		case unicode.IsUpper(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isProsodyMark reports stress and length marks, which carry no mouth shape.
func isProsodyMark(r rune) bool {
	switch r {
	case 'ˈ', 'ˌ', 'ː', 'ˑ', '\'':
		return true
	default:
		return false
	}
}
