package dialog

import (
	"strings"
	"unicode"
)

// Spoken number words accepted for ages, English and Spanish.
var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12,
	"uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
	"once": 11, "doce": 12,
}

// parseAge extracts an age from free speech like "she's six years old" or
// "tiene cinco años". Number words are checked before bare digits.
func parseAge(speech string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(speech))
	if lower == "" {
		return 0, false
	}

	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if n, ok := numberWords[word]; ok {
			return n, true
		}
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, lower)
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, c := range digits {
		n = n*10 + int(c-'0')
		if n > 999 {
			return 0, false
		}
	}
	return n, true
}

// parseDigitAge parses keypad input in the degraded digits-only mode.
func parseDigitAge(digits string) (int, bool) {
	digits = strings.TrimSpace(digits)
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Interest keywords recognized in free speech.
var interestKeywords = []string{
	"animals", "dogs", "cats", "horses", "dinosaurs", "dragons",
	"magic", "princesses", "knights", "adventure", "space", "rockets",
	"cars", "trucks", "trains", "ocean", "fish", "pirates",
	"superheroes", "music", "dancing", "sports", "soccer", "basketball",
	"unicorns",
}

// Broader category fallbacks checked when no keyword matched directly.
var interestCategories = []struct {
	words    []string
	interest string
}{
	{[]string{"animal", "pet", "dog", "cat"}, "animals"},
	{[]string{"magic", "fairy", "princess"}, "magic"},
	{[]string{"adventure", "explore"}, "adventure"},
}

// parseInterests extracts interest tags from free speech. Unrecognized
// speech falls back to a default so registration never stalls on this step.
func parseInterests(speech string) []string {
	lower := strings.ToLower(speech)

	var interests []string
	for _, keyword := range interestKeywords {
		if strings.Contains(lower, keyword) {
			interests = append(interests, keyword)
		}
	}
	if len(interests) > 0 {
		return interests
	}

	for _, cat := range interestCategories {
		for _, w := range cat.words {
			if strings.Contains(lower, w) {
				return []string{cat.interest}
			}
		}
	}
	return []string{"adventure"}
}

// parseName cleans a spoken name: trims filler punctuation, keeps the first
// couple of words, title-cases. Empty speech fails so the caller re-prompts.
func parseName(speech string) (string, bool) {
	cleaned := strings.TrimFunc(speech, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if cleaned == "" {
		return "", false
	}

	words := strings.Fields(cleaned)
	if len(words) > 2 {
		words = words[:2]
	}
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " "), true
}
