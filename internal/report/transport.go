// Package report moves a finalized result through a URL query parameter.
// The wire form is percent-encode(base64(json)).
package report

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stemsi/exstem-assess/internal/model"
)

// QueryParam is the query parameter that carries an encoded report.
const QueryParam = "r"

// ErrUndecodable is returned when no decode order yields a report.
var ErrUndecodable = errors.New("report token could not be decoded")

var narrativePolicy = bluemonday.StrictPolicy()

// Encode serializes a report into a single opaque query-safe string.
func Encode(r *model.FinalReport) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return url.QueryEscape(base64.StdEncoding.EncodeToString(raw)), nil
}

// URL appends the encoded report to base as the r query parameter.
func URL(base string, r *model.FinalReport) (string, error) {
	token, err := Encode(r)
	if err != nil {
		return "", err
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + QueryParam + "=" + token, nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// Decode reverses Encode. It unescapes first, then base64-decodes, then parses
// JSON. Tokens that were escaped twice, not escaped at all, had '+' turned into
// spaces by a form decoder, or carry bare JSON are accepted too.
func Decode(token string) (*model.FinalReport, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUndecodable
	}

	for _, candidate := range unescapeCandidates(token) {
		if r, ok := decodeBase64JSON(candidate); ok {
			return r, nil
		}
		if r, ok := parseJSON([]byte(candidate)); ok {
			return r, nil
		}
	}
	return nil, ErrUndecodable
}

// unescapeCandidates lists the token after zero, one and two rounds of
// percent-decoding, most likely first, without duplicates.
func unescapeCandidates(token string) []string {
	seen := make(map[string]struct{}, 6)
	out := make([]string, 0, 6)
	add := func(s string) {
		if _, ok := seen[s]; ok || s == "" {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	once, err := url.QueryUnescape(token)
	if err == nil {
		add(once)
		if twice, err := url.QueryUnescape(once); err == nil {
			add(twice)
		}
	}
	if p, err := url.PathUnescape(token); err == nil {
		add(p)
	}
	add(token)
	// A form decoder already ran and turned '+' into ' '.
	add(strings.ReplaceAll(token, " ", "+"))
	return out
}

func decodeBase64JSON(s string) (*model.FinalReport, bool) {
	for _, enc := range base64Encodings {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if r, ok := parseJSON(raw); ok {
			return r, true
		}
		// base64 wrapped in a second layer of escaping.
		if inner, err := url.QueryUnescape(string(raw)); err == nil && inner != string(raw) {
			if r, ok := decodeBase64JSON(inner); ok {
				return r, true
			}
		}
	}
	return nil, false
}

func parseJSON(raw []byte) (*model.FinalReport, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var r model.FinalReport
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return nil, false
	}
	cleanNarrative(r.Report)
	return &r, true
}

// cleanNarrative strips markup from the composed feedback of a decoded token.
// Student answers stay verbatim: code answers contain '<'.
func cleanNarrative(rep *model.Report) {
	if rep == nil {
		return
	}
	rep.OverallFeedback = cleanText(rep.OverallFeedback)
	rep.Message = cleanText(rep.Message)
	for i := range rep.Strengths {
		rep.Strengths[i] = cleanText(rep.Strengths[i])
	}
	for i := range rep.AreasForImprovement {
		rep.AreasForImprovement[i] = cleanText(rep.AreasForImprovement[i])
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(narrativePolicy.Sanitize(s)))
}
