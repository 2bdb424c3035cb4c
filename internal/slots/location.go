package slots

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultLocation is used until the farmer names another field.
const DefaultLocation = "茂木町ハウス"

var (
	locationRE = regexp.MustCompile(`([A-Za-zＡ-Ｚａ-ｚ0-9０-９]+号?\s*ハウス|山の上の畑|\S+?(?:ハウス|畑|園|圃場))`)

	// A particle glued to the suffix means the match is sentence residue ("温度はハウス").
	particleSuffixRE = regexp.MustCompile(`^.+[はがをにでもへとてで](?:ハウス|畑|園|圃場)$`)

	// Numbers with units or question marks never belong to a field name.
	locationGhostRE = regexp.MustCompile(`\d+\s*(?:度|℃|%|円|kg|時間)|[?？]`)
)

const leadingCut = "はがをにでもへと、。"

const maxLocationRunes = 20

var bareSuffixes = map[string]bool{"ハウス": true, "畑": true, "園": true, "圃場": true}

// DetectLocationOverride returns the field named in text when it differs from current.
func DetectLocationOverride(text, current string) (string, bool) {
	m := locationRE.FindString(text)
	if m == "" {
		return "", false
	}
	if i := strings.LastIndexAny(m, leadingCut); i >= 0 {
		_, size := utf8.DecodeRuneInString(m[i:])
		m = m[i+size:]
	}
	m = SanitizeLocation(strings.TrimSpace(m))
	if m == "" || m == current {
		return "", false
	}
	return m, true
}

// SanitizeLocation returns "" for names that are recognition residue rather than a field.
func SanitizeLocation(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "", bareSuffixes[name]:
		return ""
	case utf8.RuneCountInString(name) > maxLocationRunes:
		return ""
	case locationGhostRE.MatchString(name):
		return ""
	case particleSuffixRE.MatchString(name):
		return ""
	}
	return name
}
