package provider

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/vietddude/lingo/internal/core/domain"
)

// LanguageName returns the English name of a BCP 47 tag, or the input when
// it does not parse.
func LanguageName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// SystemPrompt builds the instruction message for a style. It only depends
// on the style so every retry of a unit sends the same instructions.
func SystemPrompt(style domain.Style, lines int) string {
	var b strings.Builder

	target := LanguageName(style.TargetLanguage)
	if src := LanguageName(style.SourceLanguage); src != "" {
		fmt.Fprintf(&b, "Translate the user's text from %s to %s.", src, target)
	} else {
		fmt.Fprintf(&b, "Translate the user's text to %s.", target)
	}
	b.WriteString(" Reply with the translation only, without notes or quotes.")
	b.WriteString(" Preserve formatting, whitespace and markup.")

	if lines > 0 {
		fmt.Fprintf(&b, " The text has exactly %d lines; reply with exactly %d lines in the same order.", lines, lines)
	}
	if style.Tone != "" {
		fmt.Fprintf(&b, " Use a %s tone.", style.Tone)
	}
	if len(style.Glossary) > 0 {
		terms := make([]string, 0, len(style.Glossary))
		for k := range style.Glossary {
			terms = append(terms, k)
		}
		sort.Strings(terms)
		b.WriteString("\nAlways translate these terms as given:")
		for _, k := range terms {
			fmt.Fprintf(&b, "\n- %s => %s", k, style.Glossary[k])
		}
	}
	if style.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(style.Instructions))
	}
	return b.String()
}

// UserPrompt wraps the payload and optional read-only context.
func UserPrompt(payload, preceding string) string {
	if strings.TrimSpace(preceding) == "" {
		return payload
	}
	return "Preceding text for reference only, do not translate it:\n<context>\n" +
		preceding + "\n</context>\n\nTranslate:\n" + payload
}
