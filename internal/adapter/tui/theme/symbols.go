package theme

import (
	"os"
	"strings"
)

// SymbolSet holds all UI symbols, allowing runtime switching between
// Unicode and ASCII fallback sets.
type SymbolSet struct {
	Success   string
	Error     string
	Warning   string
	Spinner   string
	ArrowR    string
	Bullet    string
	Ellipsis  string
	Expanded  string
	Collapsed string
	User      string
	Bot       string
}

var unicodeSymbols = SymbolSet{
	Success:   "\u2713", // ✓
	Error:     "\u2717", // ✗
	Warning:   "\u26A0", // ⚠
	Spinner:   "\u23F3", // ⏳
	ArrowR:    "\u2192", // →
	Bullet:    "\u2022", // •
	Ellipsis:  "\u2026", // …
	Expanded:  "\u25BE", // ▾
	Collapsed: "\u25B8", // ▸
	User:      "You",
	Bot:       "Assistant",
}

var asciiSymbols = SymbolSet{
	Success:   "[OK]",
	Error:     "[ERR]",
	Warning:   "[!]",
	Spinner:   "[...]",
	ArrowR:    "->",
	Bullet:    "*",
	Ellipsis:  "...",
	Expanded:  "v",
	Collapsed: ">",
	User:      "You",
	Bot:       "Assistant",
}

// DetectUnicodeSupport checks whether the terminal likely supports Unicode.
// CHATSTREAM_ASCII_SYMBOLS=1 forces ASCII; otherwise the locale decides.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("CHATSTREAM_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	// Most modern terminals support Unicode.
	return true
}

// InitSymbols sets the package-level Symbol* variables based on terminal
// capabilities. Called by init(); tests may call it again after changing
// the environment.
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}

	SymbolSuccess = set.Success
	SymbolError = set.Error
	SymbolWarning = set.Warning
	SymbolSpinner = set.Spinner
	SymbolArrowR = set.ArrowR
	SymbolBullet = set.Bullet
	SymbolEllipsis = set.Ellipsis
	SymbolExpanded = set.Expanded
	SymbolCollapsed = set.Collapsed
	SymbolUser = set.User
	SymbolBot = set.Bot
}

func init() {
	InitSymbols()
}
