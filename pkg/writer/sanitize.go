package writer

import (
	"regexp"
	"strings"
)

// citationRe matches a markdown link, optionally already wrapped in the
// canonical parenthesized citation form.
var citationRe = regexp.MustCompile(`(\()?\[([^\]\n]*)\]\(([^)\s]*)\)(\))?`)

var statClaimRe = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*%|according to|\bstudy\b|\bsurvey\b|\bstudies\b|\breport(ed|s)?\b`)

// SanitizeOptions controls the citation post-processing applied to every
// generated section.
type SanitizeOptions struct {
	// AllowedURLs restricts citations to URLs visited during this run. A nil
	// map disables the check; an empty map drops every citation.
	AllowedURLs map[string]bool
	// StrictCitations additionally prunes sentences that assert statistics or
	// study findings without a surviving citation.
	StrictCitations bool
}

// Sanitize canonicalizes in-text citations to the ([Source](url)) form,
// strips placeholder links, enforces the allow-list, and optionally prunes
// uncited statistical claims. Prose around a dropped link is preserved.
func Sanitize(text string, opts SanitizeOptions) string {
	out := citationRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := citationRe.FindStringSubmatch(match)
		label, url := parts[2], parts[3]

		if isPlaceholderURL(url) {
			return ""
		}
		if opts.AllowedURLs != nil && !opts.AllowedURLs[trimURL(url)] {
			return ""
		}
		// A bare link that is not a citation (label is the URL itself or a
		// title) still gets the canonical form when parenthesized; unwrapped
		// links in running prose are left as plain markdown links.
		if parts[1] == "(" && parts[4] == ")" {
			return "([Source](" + url + "))"
		}
		return "[" + label + "](" + url + ")"
	})

	out = tidyWhitespace(out)

	if opts.StrictCitations {
		out = pruneUncitedClaims(out)
	}
	return out
}

func isPlaceholderURL(url string) bool {
	trimmed := strings.ToLower(trimURL(url))
	if trimmed == "" || trimmed == "url" || trimmed == "#" {
		return true
	}
	return strings.Contains(trimmed, "example.com")
}

func trimURL(url string) string {
	return strings.TrimSpace(strings.Trim(url, `"'`))
}

// pruneUncitedClaims removes sentences that look like statistical or
// study-based assertions but carry no citation link.
func pruneUncitedClaims(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		sentences := splitSentences(line)
		var kept []string
		for _, s := range sentences {
			if statClaimRe.MatchString(s) && !strings.Contains(s, "](") {
				continue
			}
			kept = append(kept, s)
		}
		lines[i] = strings.Join(kept, " ")
	}
	return tidyWhitespace(strings.Join(lines, "\n"))
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	for i, r := range line {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(line) || line[i+1] == ' ' {
				if s := strings.TrimSpace(line[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
var spaceBeforePunctRe = regexp.MustCompile(` +([.,;:!?])`)
var emptyParensRe = regexp.MustCompile(`\(\s*\)`)

func tidyWhitespace(text string) string {
	text = emptyParensRe.ReplaceAllString(text, "")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripDuplicateHeaders removes heading lines whose text verbatim matches a
// header already used elsewhere in the report.
func StripDuplicateHeaders(text string, existing []string) string {
	if len(existing) == 0 {
		return text
	}
	used := make(map[string]bool, len(existing))
	for _, h := range existing {
		used[strings.ToLower(strings.TrimSpace(h))] = true
	}

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			header := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
			if used[header] {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
