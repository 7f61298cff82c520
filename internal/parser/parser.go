package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/homebase/internal/domain"
)

const (
	headingPrefix = "###"
	bulletPrefix  = "- "

	// Source tags every candidate produced by the parser.
	Source = "INBOX.md"
)

// DefaultLabels maps the INBOX.md section headings to task statuses.
func DefaultLabels() map[string]domain.Status {
	return map[string]domain.Status{
		"📥 inbox (não triado)":               domain.StatusInbox,
		"✅ próximas ações (triado)":          domain.StatusNext,
		"🗓️ agendado (criado no calendário)": domain.StatusScheduled,
		"⏳ aguardando (dependências)":        domain.StatusWaiting,
		"🧠 ideias / notas":                   domain.StatusInbox,
	}
}

// InboxParser turns a heading-structured markdown document into task candidates.
type InboxParser struct {
	sections map[string]domain.Status
}

// New creates a parser for the given heading label table. Labels are matched
// case-insensitively after trimming.
func New(labels map[string]domain.Status) *InboxParser {
	sections := make(map[string]domain.Status, len(labels))
	for label, status := range labels {
		sections[normalizeLabel(label)] = status
	}
	return &InboxParser{sections: sections}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// ParseFile reads a file from the given path and extracts all candidates.
func (p *InboxParser) ParseFile(path string) ([]domain.Candidate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads from an io.Reader and extracts all candidates.
//
// A "### " heading selects the section whose status subsequent bullets get; an
// unknown heading closes the current section. Bullets outside a known section
// and bullets with no text are dropped.
func (p *InboxParser) Parse(r io.Reader) ([]domain.Candidate, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var candidates []domain.Candidate
	var current domain.Status
	inSection := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if label, ok := headingLabel(line); ok {
			current, inSection = p.sections[normalizeLabel(label)]
			continue
		}

		if !inSection || !strings.HasPrefix(line, bulletPrefix) {
			continue
		}

		title := strings.TrimSpace(line[len(bulletPrefix):])
		if title == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Title:  title,
			Status: current,
			Source: Source,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return candidates, nil
}

// headingLabel recognizes "### label" lines. The marker must be followed by
// whitespace, so "####" and "###x" are not headings.
func headingLabel(line string) (string, bool) {
	if !strings.HasPrefix(line, headingPrefix) {
		return "", false
	}
	rest := line[len(headingPrefix):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	label := strings.TrimSpace(rest)
	if label == "" {
		return "", false
	}
	return label, true
}
