// Package subtitle reads and writes SRT files as flat line sets.
package subtitle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LineBreak replaces the newlines inside a cue so each cue is one line.
const LineBreak = "<br>"

// ErrLineCount is returned when translated lines do not match the cues.
var ErrLineCount = errors.New("line count does not match cue count")

// Cue is one subtitle entry. Timing is kept verbatim.
type Cue struct {
	Index  int
	Timing string
	Text   string
}

// Parse reads SRT content. Malformed blocks are skipped.
func Parse(data string) ([]Cue, error) {
	content := strings.TrimPrefix(data, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.Trim(block, "\n")
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		if !strings.Contains(lines[1], "-->") {
			continue
		}

		cues = append(cues, Cue{
			Index:  index,
			Timing: strings.TrimSpace(lines[1]),
			Text:   strings.Join(lines[2:], "\n"),
		})
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("no subtitle cues found")
	}
	return cues, nil
}

// Lines flattens each cue's text into one line.
func Lines(cues []Cue) []string {
	out := make([]string, len(cues))
	for i, c := range cues {
		out[i] = strings.ReplaceAll(c.Text, "\n", LineBreak)
	}
	return out
}

// Apply returns a copy of cues with text replaced by translated lines.
func Apply(cues []Cue, lines []string) ([]Cue, error) {
	if len(lines) != len(cues) {
		return nil, fmt.Errorf("%w: %d lines for %d cues", ErrLineCount, len(lines), len(cues))
	}
	out := make([]Cue, len(cues))
	for i, c := range cues {
		c.Text = strings.ReplaceAll(strings.TrimSpace(lines[i]), LineBreak, "\n")
		out[i] = c
	}
	return out, nil
}

// Render writes cues back to SRT.
func Render(cues []Cue) string {
	var sb strings.Builder
	for i, c := range cues {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d\n%s\n", c.Index, c.Timing)
		if c.Text != "" {
			sb.WriteString(c.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
