package restapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// Page is one batch of a paginated collection and the link to the next.
type Page[T any] struct {
	Items []T
	// Next is empty on the last page.
	Next string
}

// RateState is the rate-limit information reported with a response. Either
// field is nil when its header is missing or unparsable.
type RateState struct {
	Remaining *uint64
	// ResetAt is an epoch second.
	ResetAt *uint64
}

// Exhausted reports whether both headers were present and the remaining
// quota is zero.
func (r RateState) Exhausted() bool {
	return r.Remaining != nil && r.ResetAt != nil && *r.Remaining == 0
}

// ParseRateState reads X-RateLimit-Remaining and X-RateLimit-Reset.
func ParseRateState(header http.Header) RateState {
	return RateState{
		Remaining: parseUint(header.Get(constants.HeaderRateLimitRemaining)),
		ResetAt:   parseUint(header.Get(constants.HeaderRateLimitReset)),
	}
}

func parseUint(value string) *uint64 {
	if value == "" {
		return nil
	}

	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return nil
	}

	return &n
}

// ParseLinkNext returns the rel="next" target of an RFC 8288 Link header, or
// the empty string. Targets may contain commas and semicolons, and quoted
// parameter values may contain either.
func ParseLinkNext(header string) string {
	for _, link := range parseLinks(header) {
		if link.hasRel("next") {
			return link.target
		}
	}

	return ""
}

type linkValue struct {
	target string
	rels   []string
}

func (l *linkValue) hasRel(rel string) bool {
	for _, candidate := range l.rels {
		if strings.EqualFold(candidate, rel) {
			return true
		}
	}

	return false
}

func parseLinks(header string) []linkValue {
	var links []linkValue

	rest := header

	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			return links
		}

		length := strings.IndexByte(rest[open:], '>')
		if length < 0 {
			return links
		}

		link := linkValue{target: rest[open+1 : open+length]}
		rest = link.readParams(rest[open+length+1:])
		links = append(links, link)
	}
}

// readParams consumes the `; name=value` pairs after a target and returns
// what follows them, normally the comma before the next link value.
func (l *linkValue) readParams(input string) string {
	rest := input

	for {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" || rest[0] != ';' {
			return rest
		}

		rest = strings.TrimLeft(rest[1:], " \t")

		end := strings.IndexAny(rest, "=;,")
		if end < 0 {
			return ""
		}

		name := strings.TrimSpace(rest[:end])
		rest = rest[end:]

		if rest[0] != '=' {
			continue
		}

		var value string

		value, rest = readParamValue(strings.TrimLeft(rest[1:], " \t"))

		// rel may carry several space-separated relation types.
		if strings.EqualFold(name, "rel") {
			l.rels = append(l.rels, strings.Fields(value)...)
		}
	}
}

// readParamValue reads a token or a quoted string and returns it with the
// remaining input.
func readParamValue(input string) (string, string) {
	if input == "" || input[0] != '"' {
		end := strings.IndexAny(input, ";,")
		if end < 0 {
			return strings.TrimSpace(input), ""
		}

		return strings.TrimSpace(input[:end]), input[end:]
	}

	var value strings.Builder

	for i := 1; i < len(input); i++ {
		switch input[i] {
		case '\\':
			if i+1 < len(input) {
				i++
				value.WriteByte(input[i])
			}
		case '"':
			return value.String(), input[i+1:]
		default:
			value.WriteByte(input[i])
		}
	}

	return value.String(), ""
}
