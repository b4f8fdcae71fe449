package viseme

// Resolver maps tokens to one or two shapes using the fixed IPA tables.
// The zero value is ready to use.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the shapes for a token. Diphthongs and vowel+rhotic pairs
// produce two shapes, everything else one. Tokens without a table entry fall
// back to Neutral.
func (r *Resolver) Resolve(tok Token) []Shape {
	rs := []rune(tok.Text)
	if len(rs) == 0 {
		return []Shape{Neutral}
	}

	switch tok.Kind {
	case KindDiphthong:
		if pair, ok := diphthongShapes[tok.Text]; ok {
			return []Shape{pair[0], pair[1]}
		}
	case KindAffricate:
		if s, ok := affricateShapes[tok.Text]; ok {
			return []Shape{s}
		}
	case KindRhoticVowel:
		if s, ok := vowelShapes[rs[0]]; ok {
			return []Shape{s, ShapeRR}
		}
	case KindVowel:
		if s, ok := vowelShapes[rs[0]]; ok {
			return []Shape{s}
		}
	case KindConsonant, KindWeak:
		if s, ok := consonantShapes[rs[0]]; ok {
			return []Shape{s}
		}
	}

	return []Shape{Neutral}
}

// Transcribe normalizes, tokenizes and resolves a raw phonetic string.
func (r *Resolver) Transcribe(ipa string) []Token {
	tokens := Tokenize(Normalize(ipa))
	for i := range tokens {
		tokens[i].Shapes = r.Resolve(tokens[i])
	}
	return tokens
}
