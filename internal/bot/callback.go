package bot

import "strings"

// CallbackKind tags a parsed callback payload.
type CallbackKind int

const (
	// CallbackUnknown marks payloads outside the recognised families.
	CallbackUnknown CallbackKind = iota

	// CallbackEngine is engine_<name>[:lang] — promote an engine.
	CallbackEngine

	// CallbackSetting is settings_{cache|audio}_{on|off} — flip a flag.
	CallbackSetting

	// CallbackAdmin is admin_<action> — sudo-gated maintenance actions.
	CallbackAdmin
)

// Callback is the parsed form of a callback payload. Handlers receive it
// instead of re-parsing the raw string.
type Callback struct {
	// Raw is the payload as received.
	Raw string

	// Kind tags which family matched.
	Kind CallbackKind

	// Engine and Lang are set for CallbackEngine. Lang is empty when the
	// payload named no language.
	Engine string
	Lang   string

	// Setting ("cache" or "audio") and Enabled are set for CallbackSetting.
	Setting string
	Enabled bool

	// Action is set for CallbackAdmin.
	Action string
}

// ParseCallback classifies payload into one of the callback families.
// Malformed members of a recognised family come back as CallbackUnknown.
func ParseCallback(payload string) Callback {
	cb := Callback{Raw: payload}

	switch {
	case strings.HasPrefix(payload, "engine_"):
		rest := strings.TrimPrefix(payload, "engine_")
		name, lang, _ := strings.Cut(rest, ":")
		if name == "" {
			return cb
		}
		cb.Kind = CallbackEngine
		cb.Engine = name
		cb.Lang = lang

	case strings.HasPrefix(payload, "settings_"):
		rest := strings.TrimPrefix(payload, "settings_")
		setting, state, ok := strings.Cut(rest, "_")
		if !ok || (setting != "cache" && setting != "audio") || (state != "on" && state != "off") {
			return cb
		}
		cb.Kind = CallbackSetting
		cb.Setting = setting
		cb.Enabled = state == "on"

	case strings.HasPrefix(payload, "admin_"):
		action := strings.TrimPrefix(payload, "admin_")
		if action == "" {
			return cb
		}
		cb.Kind = CallbackAdmin
		cb.Action = action
	}
	return cb
}
