package evidence

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

type CaptureKind string

const (
	KindStandard CaptureKind = "standard-capture"
	KindZoom     CaptureKind = "zoom-capture"
)

// Directive is one snapshot instruction embedded in model output.
type Directive struct {
	Kind   CaptureKind
	Minute int
	Second int
}

func (d Directive) Timestamp() string {
	return fmt.Sprintf("%02d:%02d", d.Minute, d.Second)
}

func (d Directive) OffsetSeconds() float64 {
	return float64(d.Minute*60 + d.Second)
}

// Seconds above 59 are not a valid MM:SS timestamp, so the pattern refuses
// them outright rather than matching and failing later.
var directiveRe = regexp.MustCompile(`\[(PROOF|ZOOM): (\d{1,2}):([0-5][0-9])\]`)

var (
	threatRe    = regexp.MustCompile(`\[THREAT: (.*?)\]`)
	timestampRe = regexp.MustCompile(`(\d{1,2}):([0-5][0-9])`)
	boldRe      = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// ExtractDirectives returns every well-formed capture directive in text, in
// order of appearance. Malformed markers are dropped silently.
func ExtractDirectives(text string) []Directive {
	matches := directiveRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	directives := make([]Directive, 0, len(matches))
	for _, m := range matches {
		minute, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		second, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}

		kind := KindStandard
		if m[1] == "ZOOM" {
			kind = KindZoom
		}

		directives = append(directives, Directive{Kind: kind, Minute: minute, Second: second})
	}

	return directives
}

// RenderDisplay turns raw model output into transcript markup: capture
// directives are stripped, threat markers become highlighted inline alerts,
// and MM:SS timestamps become seekable links. The input is escaped first so
// model text can never inject markup of its own.
func RenderDisplay(text string) string {
	processed := html.EscapeString(text)

	processed = directiveRe.ReplaceAllString(processed, "")

	processed = threatRe.ReplaceAllString(processed, `<span class="threat-alert">$1</span>`)

	processed = timestampRe.ReplaceAllStringFunc(processed, func(match string) string {
		parts := timestampRe.FindStringSubmatch(match)
		minute, _ := strconv.Atoi(parts[1])
		second, _ := strconv.Atoi(parts[2])
		return fmt.Sprintf(`<span class="ts-link" data-sec="%d">%s</span>`, minute*60+second, match)
	})

	processed = boldRe.ReplaceAllString(processed, "<b>$1</b>")
	processed = strings.ReplaceAll(processed, "\n", "<br>")

	return processed
}
