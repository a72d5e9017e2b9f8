package diff

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenClass int

const (
	classWord tokenClass = iota
	classSpace
	classOther
)

func classify(r rune) tokenClass {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), unicode.Is(unicode.Pc, r):
		return classWord
	case unicode.IsSpace(r):
		return classSpace
	default:
		return classOther
	}
}

// Tokenize splits text into maximal runs of word characters, whitespace and
// other characters. Joining the tokens yields text again.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	tokens := make([]string, 0, len(text)/4+1)
	start := 0
	first, _ := utf8.DecodeRuneInString(text)
	current := classify(first)
	for i, r := range text {
		class := classify(r)
		if class == current {
			continue
		}
		tokens = append(tokens, text[start:i])
		start = i
		current = class
	}
	return append(tokens, text[start:])
}

func tokenClassOf(token string) tokenClass {
	r, _ := utf8.DecodeRuneInString(token)
	return classify(r)
}

func isWord(token string) bool {
	return tokenClassOf(token) == classWord
}

func isPunct(token string) bool {
	return tokenClassOf(token) == classOther
}

// isNeutral marks tokens that carry no words and do not end a line.
func isNeutral(token string) bool {
	switch tokenClassOf(token) {
	case classOther:
		return true
	case classSpace:
		return !strings.Contains(token, "\n")
	default:
		return false
	}
}

func isSpace(token string) bool {
	return tokenClassOf(token) == classSpace
}
