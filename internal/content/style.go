package content

import (
	"fmt"
	"io"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// DefaultGap is the inter-column gap in CSS pixels.
const DefaultGap = 80

// pageStyle lays the container out as a horizontal strip of viewport sized
// columns. One column is one page, so consecutive pages start one viewport
// plus one gap apart.
const pageStyle = `html, body {
  margin: 0;
  padding: 0;
  height: 100%%;
  overflow: hidden;
  background-color: #fdfdfd;
  color: #222;
}
body {
  font-family: "Georgia", "Cambria", serif;
  font-size: 21px;
  line-height: 1.8;
}
#%[1]s {
  box-sizing: border-box;
  width: 100vw;
  height: 100vh;
  padding: 80px 0;
  column-width: 100vw;
  column-gap: %[2]dpx;
  column-fill: auto;
  overflow-x: scroll;
  overflow-y: hidden;
  scrollbar-width: none;
}
#%[1]s::-webkit-scrollbar {
  display: none;
}
#%[1]s > * {
  box-sizing: border-box;
  padding-left: 10vw;
  padding-right: 10vw;
}
#%[1]s p {
  margin-bottom: 1.5em;
  text-align: justify;
}
#%[1]s img, #%[1]s svg {
  max-width: 100%%;
  max-height: calc(100vh - 160px);
  height: auto;
  display: block;
  margin: 30px auto;
  break-inside: avoid;
}
html.%[3]s, html.%[3]s body {
  background-color: #1e1e1e;
  color: #d8d8d8;
}
html.%[3]s a {
  color: #8ab4f8;
}
`

// PageStyle returns the pagination stylesheet for the given column gap.
func PageStyle(gap int) string {
	return fmt.Sprintf(pageStyle, ContainerID, gap, DarkClass)
}

// SanitizeStylesheet re-serializes a user stylesheet dropping declarations
// which would fight the column layout: any column or overflow property,
// positioning, and sizing of the document shell or the page container.
func SanitizeStylesheet(data []byte, log *zap.Logger) string {
	if log == nil {
		log = zap.NewNop()
	}

	p := css.NewParser(parse.NewInputBytes(data), false)

	var (
		out      strings.Builder
		selector string
		lastOff  = -1
	)
	for {
		gt, _, text := p.Next()
		switch gt {
		case css.ErrorGrammar:
			err := p.Err()
			if err == nil || err == io.EOF {
				return out.String()
			}
			off := p.Offset()
			if off == lastOff {
				log.Debug("Stylesheet parsing stuck, truncating", zap.Error(err))
				return out.String()
			}
			lastOff = off
			log.Debug("Skipping malformed stylesheet fragment", zap.Error(err))

		case css.AtRuleGrammar:
			log.Debug("Dropping at-rule from user stylesheet", zap.ByteString("rule", text))

		case css.BeginAtRuleGrammar:
			out.Write(text)
			writeTokens(&out, p.Values())
			out.WriteByte('{')

		case css.BeginRulesetGrammar:
			var sb strings.Builder
			sb.Write(text)
			writeTokens(&sb, p.Values())
			selector = sb.String()
			out.WriteString(selector)
			out.WriteByte('{')

		case css.QualifiedRuleGrammar:
			out.Write(text)
			writeTokens(&out, p.Values())
			out.WriteByte(',')

		case css.DeclarationGrammar:
			prop := string(text)
			if blockedProperty(prop, selector) {
				log.Debug("Dropping declaration from user stylesheet", zap.String("property", prop), zap.String("selector", selector))
				continue
			}
			out.WriteString(prop)
			out.WriteByte(':')
			writeTokens(&out, p.Values())
			out.WriteByte(';')

		case css.CustomPropertyGrammar:
			out.Write(text)
			out.WriteByte(':')
			writeTokens(&out, p.Values())
			out.WriteByte(';')

		case css.EndRulesetGrammar:
			selector = ""
			out.WriteByte('}')

		case css.EndAtRuleGrammar:
			out.WriteByte('}')
		}
	}
}

func writeTokens(w io.Writer, tokens []css.Token) {
	for _, t := range tokens {
		w.Write(t.Data)
	}
}

var shellSizing = map[string]bool{
	"height": true, "width": true,
	"max-height": true, "max-width": true,
	"min-height": true, "min-width": true,
	"margin": true, "padding": true,
}

func blockedProperty(prop, selector string) bool {
	switch {
	case strings.HasPrefix(prop, "column"), strings.HasPrefix(prop, "overflow"):
		return true
	case prop == "position":
		return true
	case shellSizing[prop]:
		return targetsShell(selector)
	}
	return false
}

// targetsShell reports whether any selector of a group addresses the
// document root, the body or the page container.
func targetsShell(selector string) bool {
	for s := range strings.SplitSeq(selector, ",") {
		s = strings.TrimSpace(s)
		if s == "html" || s == "body" || s == ":root" || s == "*" || strings.Contains(s, "#"+ContainerID) {
			return true
		}
	}
	return false
}
