// Package sanitize classifies submitted query and script text before a
// request is created. The classifiers are deliberately simple string and
// regex matchers: false positives are acceptable, silent false negatives
// for the fixed denylist are not.
package sanitize

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxDisplayLen is the default cap applied to text shown in listings.
const MaxDisplayLen = 500

var (
	// ErrDangerousOperator blocks a document-store submission outright.
	ErrDangerousOperator = errors.New("dangerous operator")

	// ErrInvalidFileName blocks a script submission with a bad file name.
	ErrInvalidFileName = errors.New("invalid file name")
)

// Operators and methods that permit server-side code execution or
// unrestricted predicate injection. Matching is case-sensitive.
var dangerousDocumentOperators = []string{
	"$where",
	"$function",
	"$accumulator",
	"$expr",
	"mapReduce",
}

var (
	inlineFunctionRe = regexp.MustCompile(`function\s*\(`)

	ddlRe = regexp.MustCompile(`(?i)^\s*(DROP|TRUNCATE|ALTER|RENAME|CREATE)\b`)

	documentMethodRe = regexp.MustCompile(`\.(drop|dropDatabase)\s*\(\s*\)|\.remove\s*\(`)

	injectionRes = []*regexp.Regexp{
		regexp.MustCompile(`['"]\s*--`),
		regexp.MustCompile(`['"]\s*/\*.*\*/`),
		regexp.MustCompile(`(?i)UNION\s+SELECT`),
		regexp.MustCompile(`(?i)\b(OR|AND)\s+1\s*=\s*1`),
		regexp.MustCompile(`;\s*\S`),
		regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`),
	}

	fileNameCharRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// SanitizeDocumentStoreInput rejects document-store text containing any
// denylisted operator or an inline function literal. On no match the input
// is returned unchanged.
func SanitizeDocumentStoreInput(text string) (string, error) {
	for _, op := range dangerousDocumentOperators {
		if strings.Contains(text, op) {
			return "", fmt.Errorf("%w: %s is not allowed", ErrDangerousOperator, op)
		}
	}
	if inlineFunctionRe.MatchString(text) {
		return "", fmt.Errorf("%w: inline function literals are not allowed", ErrDangerousOperator)
	}
	return text, nil
}

// IsDangerousDDL reports whether the statement's leading keyword alters
// schema or destroys data irrecoverably. DML (SELECT, INSERT, UPDATE,
// DELETE) is allowed to execute; DDL is surfaced to the approver as a
// warning rather than blocked.
func IsDangerousDDL(statement string) bool {
	return ddlRe.MatchString(statement)
}

// IsDangerousDocumentMethod reports whether the text calls a destructive
// collection method such as .drop(), .dropDatabase() or .remove(...).
func IsDangerousDocumentMethod(text string) bool {
	return documentMethodRe.MatchString(text)
}

// DetectSQLInjectionPattern is a heuristic classifier for free-text fields.
// It flags quote-then-comment markers, UNION SELECT, always-true boolean
// tautologies, stray statement separators and embedded DROP TABLE tokens.
// The submitter is already authenticated, so a match is a warning, not a
// block.
func DetectSQLInjectionPattern(text string) bool {
	for _, re := range injectionRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var displayEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// SanitizeForDisplay HTML-entity-escapes text for safe rendering.
func SanitizeForDisplay(text string) string {
	return displayEscaper.Replace(text)
}

// SanitizeFileName strips path traversal segments, replaces any character
// outside [A-Za-z0-9._-] with an underscore and requires a .js suffix.
func SanitizeFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean(name))
	name = strings.ReplaceAll(name, "..", "")
	name = fileNameCharRe.ReplaceAllString(name, "_")

	if name == "" || name == "." || !strings.HasSuffix(name, ".js") || name == ".js" {
		return "", fmt.Errorf("%w: %q must be a .js file", ErrInvalidFileName, name)
	}
	return name, nil
}

// Truncate returns text unchanged when it fits within max, otherwise at most
// max bytes cut on a rune boundary with a literal "..." suffix.
func Truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
