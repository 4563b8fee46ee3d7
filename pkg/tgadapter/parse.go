package tgadapter

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/sedabot/sedabot/pkg/engine"
)

// DefaultLang is the language assumed when no prefix and no RTL text says
// otherwise.
const DefaultLang = "en"

// DefaultRTLLang is the language assigned when RTL detection fires and no
// explicit [xx]: prefix was given.
const DefaultRTLLang = "fa"

// ttsCommands are the slash tokens that mark a message as a TTS request.
var ttsCommands = map[string]bool{
	"/tts":   true,
	"/speak": true,
	"/voice": true,
	"/صدا":   true,
	"/تکلم":  true,
}

// Command is the result of parsing a TTS message payload.
type Command struct {
	// Text is the remaining payload after all recognised prefixes were
	// consumed. Always a suffix of the trimmed input.
	Text string

	// Lang is the resolved language tag. Defaults to [DefaultLang]; set by a
	// [xx]: prefix or by RTL detection.
	Lang string

	// LangExplicit reports whether Lang came from an explicit [xx]: prefix.
	LangExplicit bool

	// RTL reports whether RTL detection fired on the cleaned text.
	RTL bool

	// Engine optionally pins an engine by name ({edge} prefix).
	Engine string

	// Voice optionally pins a voice name ((voice:NAME) prefix).
	Voice string

	// Rate is the speaking-rate multiplier; 1.0 when no valid rate prefix.
	Rate float64

	// Pitch is the pitch shift in semitones; 0.0 when no valid pitch prefix.
	Pitch float64
}

var (
	langPrefixRe   = regexp.MustCompile(`^\[([A-Za-z]{2})\]:\s*`)
	enginePrefixRe = regexp.MustCompile(`^\{([A-Za-z0-9_-]+)\}\s*`)
	voicePrefixRe  = regexp.MustCompile(`^\(voice:([A-Za-z0-9._-]+)\)\s*`)
	ratePrefixRe   = regexp.MustCompile(`^([+-])(\d+(?:\.\d+)?)(%|st)\s+`)
	pitchPrefixRe  = regexp.MustCompile(`^@([+-])(\d+(?:\.\d+)?)(st)?\s+`)
)

// IsTTSCommand reports whether the first whitespace-delimited token of text
// is one of the recognised TTS command tokens, with or without a @botname
// suffix.
func IsTTSCommand(text string) bool {
	token, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	if at := strings.IndexByte(token, '@'); at > 0 {
		token = token[:at]
	}
	return ttsCommands[token]
}

// ParseCommand parses a TTS message payload into a [Command].
//
// A leading TTS command token (/tts, /speak, /voice, /صدا, /تکلم) is stripped
// first, then the recognised prefixes are applied left-to-right in grammar
// order: [xx]: language, {name} engine, (voice:NAME), ±N% or ±N.Nst rate,
// @±N[st] pitch. A prefix with an out-of-bounds or unparseable value is left
// in the text unchanged and stops prefix scanning. If the language remains
// the default after prefix handling, RTL detection runs on the remaining
// text and switches the language to [DefaultRTLLang].
func ParseCommand(raw string) Command {
	cmd := Command{Lang: DefaultLang, Rate: 1.0, Pitch: 0.0}

	rest := strings.TrimSpace(raw)
	if IsTTSCommand(rest) {
		_, tail, _ := strings.Cut(rest, " ")
		rest = strings.TrimSpace(tail)
	}

	rest = cmd.consumePrefixes(rest)
	cmd.Text = rest

	if !cmd.LangExplicit && DetectRTL(rest) {
		cmd.Lang = DefaultRTLLang
		cmd.RTL = true
	}
	return cmd
}

// consumePrefixes applies the grammar prefixes in order and returns the
// unconsumed remainder.
func (c *Command) consumePrefixes(s string) string {
	if m := langPrefixRe.FindStringSubmatch(s); m != nil {
		if ValidLang(m[1]) {
			c.Lang = strings.ToLower(m[1])
			c.LangExplicit = true
			s = s[len(m[0]):]
		} else {
			return s
		}
	}
	if m := enginePrefixRe.FindStringSubmatch(s); m != nil {
		c.Engine = m[1]
		s = s[len(m[0]):]
	}
	if m := voicePrefixRe.FindStringSubmatch(s); m != nil {
		c.Voice = m[1]
		s = s[len(m[0]):]
	}
	if m := ratePrefixRe.FindStringSubmatch(s); m != nil {
		if rate, ok := parseRate(m[1], m[2], m[3]); ok {
			c.Rate = rate
			s = s[len(m[0]):]
		} else {
			return s
		}
	}
	if m := pitchPrefixRe.FindStringSubmatch(s); m != nil {
		if pitch, ok := parsePitch(m[1], m[2]); ok {
			c.Pitch = pitch
			s = s[len(m[0]):]
		} else {
			return s
		}
	}
	return s
}

// parseRate converts a ±N% or ±N.Nst prefix into a rate multiplier and
// bounds it to [engine.MinRate, engine.MaxRate].
func parseRate(sign, number, unit string) (float64, bool) {
	n, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}
	if sign == "-" {
		n = -n
	}
	var rate float64
	switch unit {
	case "%":
		rate = 1.0 + n/100
	case "st":
		rate = math.Pow(2, n/12)
	default:
		return 0, false
	}
	if rate < engine.MinRate || rate > engine.MaxRate {
		return 0, false
	}
	return rate, true
}

// parsePitch converts a @±N[st] prefix into semitones and bounds it to
// [engine.MinPitch, engine.MaxPitch].
func parsePitch(sign, number string) (float64, bool) {
	n, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}
	if sign == "-" {
		n = -n
	}
	if n < engine.MinPitch || n > engine.MaxPitch {
		return 0, false
	}
	return n, true
}

// ValidLang reports whether s is a well-formed two-letter language tag.
func ValidLang(s string) bool {
	if len(s) != 2 {
		return false
	}
	_, err := language.Parse(strings.ToLower(s))
	return err == nil
}

// DetectRTL reports whether text is predominantly right-to-left script
// (Arabic or Hebrew letters outnumbering half the letter total).
func DetectRTL(text string) bool {
	var rtl, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Arabic, r) || unicode.Is(unicode.Hebrew, r) {
			rtl++
		}
	}
	return rtl > 0 && rtl*2 >= letters
}
