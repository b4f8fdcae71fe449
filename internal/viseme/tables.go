package viseme

// TokenKind classifies a phonetic token for resolution and compression.
type TokenKind string

const (
	KindConsonant   TokenKind = "consonant"
	KindVowel       TokenKind = "vowel"
	KindDiphthong   TokenKind = "diphthong"
	KindAffricate   TokenKind = "affricate"
	KindRhoticVowel TokenKind = "rhotic_vowel"
	KindWeak        TokenKind = "weak" // aspirates, flaps, glottal stops
	KindUnknown     TokenKind = "unknown"
)

// consonantShapes maps single IPA consonants to visemes.
var consonantShapes = map[rune]Shape{
	// Bilabials
	'p': ShapePP, 'b': ShapePP, 'm': ShapePP, 'ɱ': ShapePP,

	// Labiodentals
	'f': ShapeFF, 'v': ShapeFF,

	// Dentals
	'θ': ShapeTH, 'ð': ShapeTH,

	// Alveolar / retroflex stops and the flap
	't': ShapeDD, 'd': ShapeDD, 'ʈ': ShapeDD, 'ɖ': ShapeDD, 'ɾ': ShapeDD,

	// Velars and uvulars
	'k': ShapeKK, 'g': ShapeKK, 'ŋ': ShapeKK, 'x': ShapeKK, 'ɣ': ShapeKK, 'q': ShapeKK, 'ɢ': ShapeKK,

	// Postalveolars
	'ʃ': ShapeCH, 'ʒ': ShapeCH, 'ɕ': ShapeCH, 'ʑ': ShapeCH,

	// Sibilants
	's': ShapeSS, 'z': ShapeSS,

	// Nasals and laterals
	'n': ShapeNN, 'l': ShapeNN, 'ɫ': ShapeNN, 'ɲ': ShapeNN, 'ɳ': ShapeNN, 'ʎ': ShapeNN,

	// Rhotics
	'ɹ': ShapeRR, 'r': ShapeRR, 'ɻ': ShapeRR, 'ʁ': ShapeRR, 'ʀ': ShapeRR,

	// Approximants borrow the nearest vowel posture
	'w': ShapeU, 'ʍ': ShapeU, 'ɥ': ShapeU,
	'j': ShapeI,

	// Aspirates open the mouth, glottal stop is a closure with no visible shape
	'h': ShapeAA, 'ɦ': ShapeAA,
	'ʔ': ShapeSil,
}

// weakConsonants are dropped first when a word has to be compressed.
var weakConsonants = map[rune]bool{
	'h': true, 'ɦ': true, 'ɾ': true, 'ʔ': true,
}

// vowelShapes maps monophthongs to visemes.
var vowelShapes = map[rune]Shape{
	'a': ShapeAA, 'ɑ': ShapeAA, 'æ': ShapeAA, 'ʌ': ShapeAA, 'ɐ': ShapeAA, 'ɒ': ShapeAA, 'ə': ShapeAA,
	'e': ShapeE, 'ɛ': ShapeE, 'ɜ': ShapeE,
	'i': ShapeI, 'ɪ': ShapeI, 'y': ShapeI, 'ʏ': ShapeI, 'ɨ': ShapeI,
	'o': ShapeO, 'ɔ': ShapeO, 'ø': ShapeO, 'œ': ShapeO, 'ɵ': ShapeO,
	'u': ShapeU, 'ʊ': ShapeU, 'ɯ': ShapeU, 'ʉ': ShapeU,
}

// diphthongShapes split into an onset and a glide shape.
var diphthongShapes = map[string][2]Shape{
	"eɪ": {ShapeE, ShapeI},
	"aɪ": {ShapeAA, ShapeI},
	"ɔɪ": {ShapeO, ShapeI},
	"aʊ": {ShapeAA, ShapeU},
	"oʊ": {ShapeO, ShapeU},
	"əʊ": {ShapeAA, ShapeU},
	"ɪə": {ShapeI, ShapeAA},
	"eə": {ShapeE, ShapeAA},
	"ʊə": {ShapeU, ShapeAA},
}

// affricateShapes collapse stop+fricative into the fricative's posture.
var affricateShapes = map[string]Shape{
	"tʃ": ShapeCH,
	"dʒ": ShapeCH,
	"ts": ShapeSS,
	"dz": ShapeSS,
}

var rhotics = map[rune]bool{
	'ɹ': true, 'r': true, 'ɻ': true,
}
