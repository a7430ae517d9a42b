// Package chunk splits job text into ordered units that fit a provider's
// request size, preferring natural boundaries.
package chunk

import (
	"strings"

	"github.com/vietddude/lingo/internal/core/domain"
)

// Default sizes, counted in runes.
const (
	DefaultDirectSendThreshold = 3000
	DefaultMaxSize             = 2000
	DefaultLookBack            = 500
)

// Config controls splitting.
type Config struct {
	// DirectSendThreshold is the largest text sent as a single unit.
	DirectSendThreshold int
	// MaxSize caps every unit's payload.
	MaxSize int
	// LookBack bounds how far before MaxSize a boundary is searched for.
	LookBack int
}

// DefaultConfig returns the default sizes.
func DefaultConfig() Config {
	return Config{
		DirectSendThreshold: DefaultDirectSendThreshold,
		MaxSize:             DefaultMaxSize,
		LookBack:            DefaultLookBack,
	}
}

// Chunker splits text according to its Config.
type Chunker struct {
	cfg Config
}

// New creates a chunker. Zero fields take defaults.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.DirectSendThreshold <= 0 {
		cfg.DirectSendThreshold = def.DirectSendThreshold
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.LookBack <= 0 || cfg.LookBack > cfg.MaxSize {
		cfg.LookBack = min(def.LookBack, cfg.MaxSize)
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Split cuts text into units. Concatenating every unit's payload and
// separator in index order yields text exactly.
func (c *Chunker) Split(text string) []domain.Unit {
	r := []rune(text)
	if len(r) <= c.cfg.DirectSendThreshold {
		return []domain.Unit{{Index: 0, Payload: text}}
	}

	var units []domain.Unit
	pos := 0
	for pos < len(r) {
		if len(r)-pos <= c.cfg.MaxSize {
			units = append(units, newUnit(len(units), string(r[pos:]), ""))
			break
		}
		cut, sepEnd := c.findBreak(r, pos)
		units = append(units, newUnit(len(units), string(r[pos:cut]), string(r[cut:sepEnd])))
		pos = sepEnd
	}
	return units
}

func newUnit(index int, payload, sep string) domain.Unit {
	return domain.Unit{Index: index, Payload: payload, Separator: sep}
}

// findBreak returns where the payload ends and where its separator ends.
// Boundaries are tried in order: blank line, line break, sentence end,
// then a hard cut at MaxSize.
func (c *Chunker) findBreak(r []rune, pos int) (int, int) {
	limit := pos + c.cfg.MaxSize
	low := max(pos+1, limit-c.cfg.LookBack)

	for i := limit; i >= low; i-- {
		if i+1 < len(r) && r[i] == '\n' && r[i+1] == '\n' {
			return i, newlineRunEnd(r, i)
		}
	}
	for i := limit; i >= low; i-- {
		if i < len(r) && r[i] == '\n' {
			return i, newlineRunEnd(r, i)
		}
	}
	// The terminator stays with the payload, so the payload ends at i+1.
	for i := limit - 1; i >= low-1; i-- {
		if isSentenceEnd(r, i) {
			end := i + 1
			if end < len(r) && r[end] == ' ' {
				return end, end + 1
			}
			return end, end
		}
	}
	return limit, limit
}

func newlineRunEnd(r []rune, i int) int {
	for i < len(r) && r[i] == '\n' {
		i++
	}
	return i
}

func isSentenceEnd(r []rune, i int) bool {
	if i < 0 || i >= len(r) {
		return false
	}
	var next rune
	if i+1 < len(r) {
		next = r[i+1]
		if isTerminator(next) {
			return false
		}
	}
	switch r[i] {
	case '.', '!', '?':
		return next == 0 || next == ' ' || next == '\t' || next == '\r'
	case '。', '！', '？', '…':
		return true
	}
	return false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// SplitLines batches subtitle lines into units of at most maxLines lines
// and maxSize runes. Each unit records its line count so translations
// can be checked for dropped or merged lines.
func SplitLines(lines []string, maxLines, maxSize int) []domain.Unit {
	if maxLines <= 0 {
		maxLines = len(lines)
	}
	var units []domain.Unit
	var batch []string
	size := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		u := newUnit(len(units), strings.Join(batch, "\n"), "\n")
		u.Lines = len(batch)
		units = append(units, u)
		batch, size = nil, 0
	}

	for _, line := range lines {
		n := len([]rune(line)) + 1
		if len(batch) > 0 && (len(batch) >= maxLines || (maxSize > 0 && size+n > maxSize)) {
			flush()
		}
		batch = append(batch, line)
		size += n
	}
	flush()

	if len(units) > 0 {
		units[len(units)-1].Separator = ""
	}
	return units
}

// WithContext fills each unit's Context with the last overlap runes of
// the preceding unit's source text. The input slice is not modified.
func WithContext(units []domain.Unit, overlap int) []domain.Unit {
	out := make([]domain.Unit, len(units))
	copy(out, units)
	if overlap <= 0 {
		return out
	}
	for i := 1; i < len(out); i++ {
		prev := []rune(units[i-1].Payload)
		if len(prev) > overlap {
			prev = prev[len(prev)-overlap:]
		}
		out[i].Context = string(prev)
	}
	return out
}

// Join reassembles units in index order.
func Join(units []domain.Unit) string {
	var b strings.Builder
	for _, u := range units {
		b.WriteString(u.Payload)
		b.WriteString(u.Separator)
	}
	return b.String()
}
