// Package taskfile reads operator task files and renders task lists into
// post bodies.
//
// A task file is semicolon separated with the columns title;description;dueDate.
// An optional header row naming those columns is skipped.
package taskfile

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"storecast/internal/domain"
)

// DueDateLayouts are the calendar date forms accepted in the dueDate column.
var DueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02.01.2006",
	"2.1.2006",
	"01/02/2006",
	"2006/01/02",
}

const maxLineBytes = 1 << 20

// DisplayLayout is how due dates appear in rendered posts.
const DisplayLayout = "2006-01-02"

// Parse turns a task file into task specifications, one per line. Quotes
// carry no meaning. Blank lines are ignored and rows without a title are
// dropped. An unparseable due date leaves the task without one.
func Parse(data []byte) ([]domain.TaskSpec, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	tasks := []domain.TaskSpec{}
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		record := strings.Split(line, ";")
		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		task, ok := parseRow(record)
		if !ok {
			continue
		}
		tasks = append(tasks, task)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return tasks, nil
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "title")
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseRow(record []string) (domain.TaskSpec, bool) {
	title := field(record, 0)
	if title == "" {
		return domain.TaskSpec{}, false
	}
	task := domain.TaskSpec{
		Title:       title,
		Description: field(record, 1),
	}
	if due, ok := ParseDueDate(field(record, 2)); ok {
		task.DueDate = &due
	}
	return task, true
}

// ParseDueDate parses a calendar date and normalizes it to midnight UTC.
func ParseDueDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range DueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// RenderHTML renders tasks as an unordered list for a post body. No tasks
// render as the empty string.
func RenderHTML(tasks []domain.TaskSpec) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<ul>")
	for _, task := range tasks {
		b.WriteString("<li><strong>")
		b.WriteString(html.EscapeString(task.Title))
		b.WriteString("</strong>")
		if task.Description != "" {
			b.WriteString(": ")
			b.WriteString(html.EscapeString(task.Description))
		}
		if task.DueDate != nil {
			b.WriteString(" (due ")
			b.WriteString(task.DueDate.UTC().Format(DisplayLayout))
			b.WriteString(")")
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}
