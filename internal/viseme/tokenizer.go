package viseme

import "unicode"

// Token is one phonetic segment. Shapes is filled by the Resolver.
type Token struct {
	Text   string
	Kind   TokenKind
	Shapes []Shape
}

// Tokenize splits a normalized phonetic string left to right. Two-rune
// diphthongs, affricates and vowel+rhotic pairs win over single runes;
// punctuation, digits and symbols are skipped.
func Tokenize(normalized string) []Token {
	rs := []rune(normalized)
	tokens := make([]Token, 0, len(rs))

	for i := 0; i < len(rs); {
		r := rs[i]
		if !unicode.IsLetter(r) {
			i++
			continue
		}

		if i+1 < len(rs) {
			pair := string(rs[i : i+2])
			if _, ok := diphthongShapes[pair]; ok {
				tokens = append(tokens, Token{Text: pair, Kind: KindDiphthong})
				i += 2
				continue
			}
			if _, ok := affricateShapes[pair]; ok {
				tokens = append(tokens, Token{Text: pair, Kind: KindAffricate})
				i += 2
				continue
			}
			if _, ok := vowelShapes[r]; ok && rhotics[rs[i+1]] {
				tokens = append(tokens, Token{Text: pair, Kind: KindRhoticVowel})
				i += 2
				continue
			}
		}

		tokens = append(tokens, Token{Text: string(r), Kind: classify(r)})
		i++
	}

	return tokens
}

func classify(r rune) TokenKind {
	if _, ok := vowelShapes[r]; ok {
		return KindVowel
	}
	if weakConsonants[r] {
		return KindWeak
	}
	if _, ok := consonantShapes[r]; ok {
		return KindConsonant
	}
	return KindUnknown
}
