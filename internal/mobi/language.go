package mobi

import (
	"fmt"
	"strings"
)

// LanguageCode is the decoded form of the 32-bit locale field:
// (sub << 10) | main, each component 8 bits wide.
type LanguageCode struct {
	Main uint8
	Sub  uint8
}

// mainLanguageTags maps MOBI main language ids to their BCP-47 primary
// subtags.
var mainLanguageTags = map[uint8]string{
	1:  "ar", // Arabic
	2:  "bg", // Bulgarian
	3:  "ca", // Catalan
	4:  "zh", // Chinese
	5:  "cs", // Czech
	6:  "da", // Danish
	7:  "de", // German
	8:  "el", // Greek
	9:  "en", // English
	10: "es", // Spanish
	11: "fi", // Finnish
	12: "fr", // French
	13: "he", // Hebrew
	14: "hu", // Hungarian
	15: "is", // Icelandic
	16: "it", // Italian
	17: "ja", // Japanese
	18: "ko", // Korean
	19: "nl", // Dutch
	20: "no", // Norwegian
	21: "pl", // Polish
	22: "pt", // Portuguese
	24: "ro", // Romanian
	25: "ru", // Russian
	27: "sk", // Slovak
	28: "sq", // Albanian
	29: "sv", // Swedish
	30: "th", // Thai
	31: "tr", // Turkish
	32: "ur", // Urdu
	34: "uk", // Ukrainian
	36: "hi", // Hindi
	38: "lv", // Latvian
	39: "lt", // Lithuanian
	42: "vi", // Vietnamese
}

// subLanguageRegions maps (main id, sub id) pairs to BCP-47 region
// subtags, following the Windows locale numbering the format inherits.
var subLanguageRegions = map[LanguageCode]string{
	{Main: 4, Sub: 1}:  "TW",
	{Main: 4, Sub: 2}:  "CN",
	{Main: 4, Sub: 3}:  "HK",
	{Main: 4, Sub: 4}:  "SG",
	{Main: 7, Sub: 1}:  "DE",
	{Main: 7, Sub: 2}:  "CH",
	{Main: 7, Sub: 3}:  "AT",
	{Main: 7, Sub: 4}:  "LU",
	{Main: 9, Sub: 1}:  "US",
	{Main: 9, Sub: 2}:  "GB",
	{Main: 9, Sub: 3}:  "AU",
	{Main: 9, Sub: 4}:  "CA",
	{Main: 9, Sub: 5}:  "NZ",
	{Main: 9, Sub: 6}:  "IE",
	{Main: 9, Sub: 7}:  "ZA",
	{Main: 10, Sub: 1}: "ES",
	{Main: 10, Sub: 2}: "MX",
	{Main: 12, Sub: 1}: "FR",
	{Main: 12, Sub: 2}: "BE",
	{Main: 12, Sub: 3}: "CA",
	{Main: 12, Sub: 4}: "CH",
	{Main: 16, Sub: 1}: "IT",
	{Main: 16, Sub: 2}: "CH",
	{Main: 19, Sub: 1}: "NL",
	{Main: 19, Sub: 2}: "BE",
	{Main: 22, Sub: 1}: "BR",
	{Main: 22, Sub: 2}: "PT",
	{Main: 29, Sub: 1}: "SE",
	{Main: 29, Sub: 2}: "FI",
}

// ParseLanguageCode splits the locale field into its components and
// verifies both against the known tables. A zero main id means the
// language is unset; the sub id must then also be zero.
func ParseLanguageCode(locale uint32) (LanguageCode, error) {
	main := uint8(locale & 0xFF)
	sub := uint8((locale >> 10) & 0xFF)
	code := LanguageCode{Main: main, Sub: sub}

	if main == 0 {
		if sub != 0 {
			return LanguageCode{}, fmt.Errorf("sub language %d without main language: %w", sub, ErrInvariant)
		}
		return code, nil
	}
	if _, ok := mainLanguageTags[main]; !ok {
		return LanguageCode{}, fmt.Errorf("main language id %d: %w", main, ErrUnknownEnum)
	}
	if sub != 0 {
		if _, ok := subLanguageRegions[code]; !ok {
			return LanguageCode{}, fmt.Errorf("sub language id %d for main %d: %w", sub, main, ErrUnknownEnum)
		}
	}
	return code, nil
}

// Encode packs the components back into the 32-bit locale field.
func (l LanguageCode) Encode() uint32 {
	return uint32(l.Sub)<<10 | uint32(l.Main)
}

// IsZero reports whether no language is set.
func (l LanguageCode) IsZero() bool {
	return l.Main == 0 && l.Sub == 0
}

// LanguageCodeFromBCP47 inverts BCP47: it resolves a tag like "en" or
// "en-US" to the code pair. Unknown regions fall back to the bare
// language; unknown languages report false.
func LanguageCodeFromBCP47(tag string) (LanguageCode, bool) {
	if tag == "" {
		return LanguageCode{}, false
	}
	lang, region, _ := strings.Cut(tag, "-")
	lang = strings.ToLower(lang)

	var code LanguageCode
	found := false
	for id, t := range mainLanguageTags {
		if t == lang {
			code.Main = id
			found = true
			break
		}
	}
	if !found {
		return LanguageCode{}, false
	}
	if region == "" {
		return code, true
	}

	region = strings.ToUpper(region)
	for pair, r := range subLanguageRegions {
		if pair.Main == code.Main && r == region {
			return pair, true
		}
	}
	return code, true
}

// BCP47 derives a BCP-47 tag from the code pair. The second return is
// false when no language is set or the pair is unknown.
func (l LanguageCode) BCP47() (string, bool) {
	tag, ok := mainLanguageTags[l.Main]
	if !ok {
		return "", false
	}
	if l.Sub == 0 {
		return tag, true
	}
	region, ok := subLanguageRegions[l]
	if !ok {
		return "", false
	}
	return tag + "-" + region, true
}
