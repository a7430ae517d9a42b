package jobs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/chunk"
	"github.com/vietddude/lingo/internal/subtitle"
)

// SubmitRequest describes a job. Exactly one of Text, Lines or Units is used:
// Units are taken as already chunked, Lines are batched, Text is chunked
// (or parsed as SRT when Format is srt). ID is optional and lets a remote
// producer choose the job ID.
type SubmitRequest struct {
	ID     string              `json:"id,omitempty"`
	Text   string              `json:"text,omitempty"`
	Lines  []string            `json:"lines,omitempty"`
	Units  []string            `json:"units,omitempty"`
	Format domain.Format       `json:"format,omitempty"`
	Mode   domain.DispatchMode `json:"mode,omitempty"`
	Style  domain.Style        `json:"style"`
}

// Validate checks the request without building units.
func (r SubmitRequest) Validate() error {
	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err != nil {
			return fmt.Errorf("%w: job id %q is not a uuid", ErrInvalidRequest, r.ID)
		}
	}
	target := strings.TrimSpace(r.Style.TargetLanguage)
	if target == "" {
		return fmt.Errorf("%w: target language is required", ErrInvalidRequest)
	}
	if _, err := language.Parse(target); err != nil {
		return fmt.Errorf("%w: target language %q: %v", ErrInvalidRequest, target, err)
	}
	if src := strings.TrimSpace(r.Style.SourceLanguage); src != "" {
		if _, err := language.Parse(src); err != nil {
			return fmt.Errorf("%w: source language %q: %v", ErrInvalidRequest, src, err)
		}
	}

	switch r.Mode {
	case "", domain.ModeIsolation, domain.ModeParallel:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	switch r.Format {
	case "", domain.FormatText, domain.FormatLines, domain.FormatSubtitle:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, r.Format)
	}

	inputs := 0
	if r.Text != "" {
		inputs++
	}
	if len(r.Lines) > 0 {
		inputs++
	}
	if len(r.Units) > 0 {
		inputs++
	}
	if inputs != 1 {
		return fmt.Errorf("%w: exactly one of text, lines or units is required", ErrInvalidRequest)
	}
	if r.Style.ContextOverlap < 0 {
		return fmt.Errorf("%w: context overlap must not be negative", ErrInvalidRequest)
	}
	return nil
}

// plan is a validated request turned into units.
type plan struct {
	format domain.Format
	units  []domain.Unit
	cues   []subtitle.Cue
}

func (m *Manager) buildPlan(r SubmitRequest) (plan, error) {
	p := plan{format: r.Format}
	maxLines := m.cfg.SubtitleBatch
	maxSize := m.chunker.Config().MaxSize

	switch {
	case len(r.Units) > 0:
		if p.format == "" {
			p.format = domain.FormatText
		}
		for i, payload := range r.Units {
			sep := "\n"
			if i == len(r.Units)-1 {
				sep = ""
			}
			p.units = append(p.units, domain.Unit{Index: i, Payload: payload, Separator: sep})
		}

	case len(r.Lines) > 0:
		p.format = domain.FormatLines
		p.units = chunk.SplitLines(r.Lines, maxLines, maxSize)

	case r.Format == domain.FormatSubtitle:
		cues, err := subtitle.Parse(r.Text)
		if err != nil {
			return plan{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if len(cues) == 0 {
			return plan{}, fmt.Errorf("%w: subtitle has no cues", ErrInvalidRequest)
		}
		p.cues = cues
		p.units = chunk.SplitLines(subtitle.Lines(cues), maxLines, maxSize)

	default:
		p.format = domain.FormatText
		p.units = m.chunker.Split(r.Text)
	}

	if len(p.units) == 0 {
		return plan{}, fmt.Errorf("%w: nothing to translate", ErrInvalidRequest)
	}

	overlap := r.Style.ContextOverlap
	if overlap == 0 {
		overlap = m.cfg.ContextOverlap
	}
	p.units = chunk.WithContext(p.units, overlap)
	return p, nil
}

// render produces the final output for formats that need more than the
// ordered concatenation of succeeded units. Failed units keep their source.
func render(p plan, units []domain.Unit, res *domain.Result) error {
	if p.format != domain.FormatSubtitle {
		return nil
	}
	var lines []string
	for i, u := range units {
		text := u.Payload
		if o := res.Units[i]; o.Status == domain.UnitSucceeded {
			text = o.Text
		}
		lines = append(lines, strings.Split(strings.TrimRight(text, "\n"), "\n")...)
	}
	cues, err := subtitle.Apply(p.cues, lines)
	if err != nil {
		return err
	}
	res.Output = subtitle.Render(cues)
	return nil
}
