package processor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type ProcessorConfig struct {
	// MaxChars bounds the text handed to the model. Zero sends everything.
	MaxChars int
	// CollapseWhitespace joins the whole document onto one line.
	CollapseWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

var (
	pageNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^page\s*\d+(\s*of\s*\d+)?$`),
		regexp.MustCompile(`^\d+\s*/\s*\d+$`),
		regexp.MustCompile(`^-\s*\d+\s*-$`),
	}
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxChars < 0 {
		config.MaxChars = 0
	}

	return Processor{
		config: config,
	}
}

// Clean prepares extracted PDF text for a prompt. See Prepare.
func (p *Processor) Clean(text string) string {
	cleaned, _ := p.Prepare(text)
	return cleaned
}

// Prepare drops invalid UTF-8 and page-number lines and squeezes runs of
// spaces, keeping line breaks unless CollapseWhitespace is set. With
// MaxChars set the text is cut at a sentence boundary; truncated reports
// whether that happened.
func (p *Processor) Prepare(text string) (cleaned string, truncated bool) {
	text = sanitizeUTF8(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")

	text = p.cleanLines(text)
	if p.config.CollapseWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}
	text = strings.TrimSpace(text)

	if p.config.MaxChars == 0 || len(text) <= p.config.MaxChars {
		return text, false
	}
	return p.truncate(text), true
}

func (p *Processor) cleanLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if isPageNumber(line) {
			continue
		}
		kept = append(kept, line)
	}

	return blankRuns.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
}

func isPageNumber(line string) bool {
	for _, pattern := range pageNumberPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func (p *Processor) truncate(text string) string {
	var out strings.Builder
	for _, sentence := range p.splitIntoSentences(text) {
		if out.Len()+len(sentence)+1 > p.config.MaxChars {
			break
		}
		if out.Len() > 0 {
			out.WriteString(" ")
		}
		out.WriteString(sentence)
	}

	// A single sentence longer than the limit is cut on a rune boundary.
	if out.Len() == 0 {
		cut := p.config.MaxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut]
	}

	return out.String()
}

func (p *Processor) splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	var sentences []string

	start := 0
	for i := 0; i < len(text); i++ {
		for _, ender := range sentenceEnders {
			if strings.HasPrefix(text[i:], ender) {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + len(ender)
				i = start - 1
				break
			}
		}
	}

	if start < len(text) {
		if rest := strings.TrimSpace(text[start:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}

	return sentences
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
