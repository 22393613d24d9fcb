// Package picker embeds the in-page pick-mode script and drives it from the
// host through its window.__domcapture command interface.
package picker

import (
	_ "embed"
	"encoding/json"

	"github.com/hazyhaar/domcapture/selection"
	"github.com/hazyhaar/domcapture/selector"
)

//go:embed picker.js
var pickerJS string

// Keymap binds picker commands to KeyboardEvent.key values.
type Keymap struct {
	Toggle string `json:"toggle"`
	Undo   string `json:"undo"`
	Finish string `json:"finish"`
	Cancel string `json:"cancel"`
	// Bypass is the modifier (ctrl, alt, shift, meta) that lets a click
	// through to the page.
	Bypass string `json:"bypass"`
}

// DefaultKeymap returns F8 / Backspace / F9 / Escape with Ctrl as bypass.
func DefaultKeymap() Keymap {
	return Keymap{Toggle: "F8", Undo: "Backspace", Finish: "F9", Cancel: "Escape", Bypass: "ctrl"}
}

// ScriptConfig is handed to the script before it runs.
type ScriptConfig struct {
	Keys                  Keymap `json:"keys"`
	BridgePrefix          string `json:"bridgePrefix"`
	DefaultBrowserProfile string `json:"defaultBrowserProfile"`

	// Selector synthesis rules. Script always sets them from package
	// selector so picked and rebuilt selectors agree.
	StableAttrs []string `json:"stableAttrs"`
	MaxAttrLen  int      `json:"maxAttrLen"`
	MaxSegments int      `json:"maxSegments"`
}

// Script returns the self-contained init script: a config prelude followed
// by the embedded picker. It is safe to evaluate more than once per document
// and does nothing in subframes.
func Script(cfg ScriptConfig) string {
	cfg.StableAttrs = selector.StableAttrs
	cfg.MaxAttrLen = selector.MaxAttrLen
	cfg.MaxSegments = selector.MaxSegments
	if cfg.BridgePrefix == "" {
		cfg.BridgePrefix = "domcapture"
	}
	def := DefaultKeymap()
	if cfg.Keys.Toggle == "" {
		cfg.Keys.Toggle = def.Toggle
	}
	if cfg.Keys.Undo == "" {
		cfg.Keys.Undo = def.Undo
	}
	if cfg.Keys.Finish == "" {
		cfg.Keys.Finish = def.Finish
	}
	if cfg.Keys.Cancel == "" {
		cfg.Keys.Cancel = def.Cancel
	}
	if cfg.Keys.Bypass == "" {
		cfg.Keys.Bypass = def.Bypass
	}
	prelude, _ := json.Marshal(cfg)
	return "window.__domcaptureConfig = " + string(prelude) + ";\n" + pickerJS
}

// State is the host view of the pick session.
type State int

const (
	Inactive State = iota
	Picking
	Paused
	Finished
	Canceled
)

func (s State) String() string {
	switch s {
	case Picking:
		return "picking"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Canceled:
		return "canceled"
	default:
		return "inactive"
	}
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool { return s == Finished || s == Canceled }

// Status is the small per-tick view of the session: flags and a selection
// count, without the selections themselves.
type Status struct {
	Active   bool `json:"active"`
	PickMode bool `json:"pickMode"`
	Done     bool `json:"done"`
	Canceled bool `json:"canceled"`
	Count    int  `json:"count"`
}

// State derives the session state. Cancel wins over done.
func (s Status) State() State {
	return Snapshot{Active: s.Active, PickMode: s.PickMode, Done: s.Done, Canceled: s.Canceled}.State()
}

// Snapshot mirrors the browser-side session object.
type Snapshot struct {
	Active     bool                  `json:"active"`
	PickMode   bool                  `json:"pickMode"`
	Done       bool                  `json:"done"`
	Canceled   bool                  `json:"canceled"`
	Selections []selection.Selection `json:"selections"`
}

// State derives the session state. Cancel wins over done.
func (s Snapshot) State() State {
	switch {
	case s.Canceled:
		return Canceled
	case s.Done:
		return Finished
	case !s.Active:
		return Inactive
	case s.PickMode:
		return Picking
	default:
		return Paused
	}
}
