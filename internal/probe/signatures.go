package probe

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SignatureBank maps locators to the text patterns that identify them in
// an accessibility dump. Patterns are matched case-insensitively against
// the flattened element text.
type SignatureBank struct {
	patterns map[Locator][]*regexp.Regexp
}

// Connection-failure banner texts observed across assistant versions.
// Broad patterns are deliberate: a false positive costs one harmless
// resume click, a false negative leaves the session dead.
var defaultConnectionErrorPatterns = []string{
	`we're having trouble connecting`,
	`connection failed`,
	`connection lost`,
	`check your internet connection`,
	`the model provider is experiencing`,
	`resume the conversation`,
	`try reconnecting`,
	`network error`,
}

var defaultGeneralErrorPatterns = []string{
	`something went wrong`,
	`an error occurred`,
	`unexpected error`,
	`please try again`,
	`request failed`,
	`internal error`,
}

var defaultStopButtonPatterns = []string{
	`stop generating`,
	`stop response`,
	`\bgenerating\b`,
}

var defaultSidebarActivityPatterns = []string{
	`thinking`,
	`working on it`,
	`applying changes`,
	`running command`,
	`streaming`,
}

var defaultResumeControlPatterns = []string{
	`resume`,
	`try again`,
	`retry`,
}

// DefaultSignatures returns the built-in signature bank.
func DefaultSignatures() *SignatureBank {
	b := &SignatureBank{patterns: make(map[Locator][]*regexp.Regexp)}
	b.mustAdd(LocatorConnectionError, defaultConnectionErrorPatterns)
	b.mustAdd(LocatorGeneralError, defaultGeneralErrorPatterns)
	b.mustAdd(LocatorStopButton, defaultStopButtonPatterns)
	b.mustAdd(LocatorSidebarActivity, defaultSidebarActivityPatterns)
	b.mustAdd(LocatorResumeControl, defaultResumeControlPatterns)
	return b
}

func (b *SignatureBank) mustAdd(loc Locator, patterns []string) {
	for _, p := range patterns {
		b.patterns[loc] = append(b.patterns[loc], regexp.MustCompile(`(?i)`+p))
	}
}

// Add compiles and registers a custom pattern for a locator.
func (b *SignatureBank) Add(loc Locator, pattern string) error {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return fmt.Errorf("signature for %s: %w", loc, err)
	}
	b.patterns[loc] = append(b.patterns[loc], re)
	return nil
}

// Match scans text for the locator's signatures. The first matching
// pattern wins; its matched text becomes the detail.
func (b *SignatureBank) Match(loc Locator, text string) Result {
	for _, re := range b.patterns[loc] {
		if m := re.FindString(text); m != "" {
			return Result{Found: true, Detail: strings.TrimSpace(m)}
		}
	}
	return Result{}
}

// signatureFile is the YAML shape for user-supplied signature extensions:
//
//	connection_error:
//	  - "proxy unreachable"
//	stop_button:
//	  - "cancel run"
type signatureFile map[string][]string

// LoadSignatureFile merges user-defined patterns from a YAML file into the
// bank. Unknown locator keys are rejected so typos surface at startup.
func (b *SignatureBank) LoadSignatureFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read signature file: %w", err)
	}

	var file signatureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse signature file: %w", err)
	}

	known := map[string]Locator{
		string(LocatorConnectionError): LocatorConnectionError,
		string(LocatorGeneralError):    LocatorGeneralError,
		string(LocatorStopButton):      LocatorStopButton,
		string(LocatorSidebarActivity): LocatorSidebarActivity,
		string(LocatorResumeControl):   LocatorResumeControl,
	}

	for key, patterns := range file {
		loc, ok := known[key]
		if !ok {
			return fmt.Errorf("signature file: unknown locator %q", key)
		}
		for _, p := range patterns {
			if err := b.Add(loc, p); err != nil {
				return err
			}
		}
	}
	return nil
}
