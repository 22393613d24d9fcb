package bridge

import (
	"encoding/json"
	"strings"

	"github.com/hazyhaar/domcapture/profile"
)

// Op names a bridge operation.
type Op string

const (
	OpGetConfig            Op = "getConfig"
	OpSaveURLProfiles      Op = "saveUrlProfiles"
	OpSaveBrowserProfile   Op = "saveBrowserProfile"
	OpLoadBrowserProfile   Op = "loadBrowserProfile"
	OpLoadSelectionProfile Op = "loadSelectionProfile"
	OpSaveSelectionProfile Op = "saveSelectionProfile"
	OpInstallFromProfile   Op = "installFromProfile"
)

// AllOps lists every operation in declaration order.
var AllOps = []Op{
	OpGetConfig,
	OpSaveURLProfiles,
	OpSaveBrowserProfile,
	OpLoadBrowserProfile,
	OpLoadSelectionProfile,
	OpSaveSelectionProfile,
	OpInstallFromProfile,
}

// Description is a one-line summary of op, used for tool listings.
func (op Op) Description() string {
	switch op {
	case OpGetConfig:
		return "Read browser profiles, URL profiles, selection profiles and the current page."
	case OpSaveURLProfiles:
		return `Replace the saved URL profiles. Payload: {"profiles":[{"name","url"}]}.`
	case OpSaveBrowserProfile:
		return `Save a browser profile. Payload: {"name","content"} with YAML content.`
	case OpLoadBrowserProfile:
		return "Load a browser profile's YAML text by name; empty when absent."
	case OpLoadSelectionProfile:
		return "Load a selection profile's JSON by name; {} when absent."
	case OpSaveSelectionProfile:
		return `Save a selection profile. Payload: {"name","items":[{"selector","tag","kind","text"}]}.`
	case OpInstallFromProfile:
		return `Export the selections of a saved profile from the live page. Payload: {"selProfile","selIndex"} (0 = all).`
	}
	return string(op)
}

// Writes reports whether op changes saved profiles or writes a capture.
func (op Op) Writes() bool {
	switch op {
	case OpSaveURLProfiles, OpSaveBrowserProfile, OpSaveSelectionProfile, OpInstallFromProfile:
		return true
	}
	return false
}

// DefaultPrefix is the window property prefix of page bindings.
const DefaultPrefix = "domcapture"

// ExposedName returns the page binding name of op:
// ("domcapture", getConfig) → "domcaptureGetConfig".
func ExposedName(prefix string, op Op) string {
	s := string(op)
	if s == "" {
		return prefix
	}
	return prefix + strings.ToUpper(s[:1]) + s[1:]
}

// ConfigReply is the getConfig response.
type ConfigReply struct {
	BrowserProfiles       []string             `json:"browserProfiles"`
	CurrentBrowserProfile string               `json:"currentBrowserProfile"`
	URLProfiles           []profile.URLProfile `json:"urlProfiles"`
	CurrentURL            string               `json:"currentUrl"`
	SelectionProfiles     []string             `json:"selectionProfiles"`
}

// URLProfilesRequest is the saveUrlProfiles payload. Profiles stays raw so
// a non-array can be reported as such.
type URLProfilesRequest struct {
	Profiles json.RawMessage `json:"profiles"`
}

// BrowserProfileRequest is the saveBrowserProfile payload.
type BrowserProfileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SelectionProfileRequest is the saveSelectionProfile payload.
type SelectionProfileRequest struct {
	Name  string          `json:"name"`
	Items json.RawMessage `json:"items"`
}

// InstallRequest is the installFromProfile payload.
type InstallRequest struct {
	SelProfile string `json:"selProfile"`
	SelIndex   int    `json:"selIndex"`
}

func isJSONArray(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "[")
}
