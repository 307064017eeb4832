// ABOUTME: Language detection for sessions that never reported a preferred language
// ABOUTME: Backed by lingua-go restricted to the languages the concierge has content for

package chatbot

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector guesses the ISO 639-1 code of a text.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

var linguaLanguages = map[string]lingua.Language{
	"de": lingua.German,
	"en": lingua.English,
	"es": lingua.Spanish,
	"fr": lingua.French,
	"it": lingua.Italian,
	"pt": lingua.Portuguese,
}

// LinguaDetector detects among a fixed set of languages.
type LinguaDetector struct {
	detector lingua.LanguageDetector
	codes    map[lingua.Language]string
}

// NewLinguaDetector builds a detector for the given ISO 639-1 codes. Codes
// lingua is not configured for are skipped; fewer than two usable codes
// selects every supported language.
func NewLinguaDetector(codes ...string) *LinguaDetector {
	selected := make(map[lingua.Language]string)
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if l, ok := linguaLanguages[code]; ok {
			selected[l] = code
		}
	}
	if len(selected) < 2 {
		for code, l := range linguaLanguages {
			selected[l] = code
		}
	}

	langs := make([]lingua.Language, 0, len(selected))
	for l := range selected {
		langs = append(langs, l)
	}
	return &LinguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().FromLanguages(langs...).Build(),
		codes:    selected,
	}
}

// Detect returns the most likely language code of text.
func (d *LinguaDetector) Detect(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	l, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	code, ok := d.codes[l]
	return code, ok
}
