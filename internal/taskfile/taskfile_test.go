package taskfile

import (
	"strings"
	"testing"
	"time"

	"storecast/internal/domain"
)

func TestParseDropsUntitledRowsAndBlankLines(t *testing.T) {
	data := []byte("title;description;dueDate\n" +
		"Count stock;Back room;2024-05-01\n" +
		"\n" +
		";orphan description;2024-05-02\n" +
		"Clean windows;;\n")
	tasks, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d: %+v", len(tasks), tasks)
	}
	if tasks[0].Title != "Count stock" || tasks[0].Description != "Back room" {
		t.Fatalf("unexpected first task %+v", tasks[0])
	}
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if tasks[0].DueDate == nil || !tasks[0].DueDate.Equal(want) {
		t.Fatalf("unexpected due date %v", tasks[0].DueDate)
	}
	if tasks[1].DueDate != nil || tasks[1].Description != "" {
		t.Fatalf("unexpected second task %+v", tasks[1])
	}
}

func TestParseWithoutHeaderAndShortRows(t *testing.T) {
	tasks, err := Parse([]byte("\xef\xbb\xbfRestock\nLabel shelves;aisle 3"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != "Restock" || tasks[1].Description != "aisle 3" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestParseEmptyFile(t *testing.T) {
	tasks, err := Parse(nil)
	if err != nil || tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v %v", tasks, err)
	}
}

func TestParseDueDateForms(t *testing.T) {
	want := time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2024-12-24", "24.12.2024", "12/24/2024", "2024-12-24T15:04:05+02:00"} {
		got, ok := ParseDueDate(raw)
		if !ok || !got.Equal(want) {
			t.Fatalf("%q: got %v %v", raw, got, ok)
		}
	}
	if _, ok := ParseDueDate("next tuesday"); ok {
		t.Fatalf("expected unparseable date to be absent")
	}
}

func TestRenderHTMLEscapes(t *testing.T) {
	due := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := RenderHTML([]domain.TaskSpec{
		{Title: "<b>Count</b>", Description: "A & B", DueDate: &due},
		{Title: "Sweep"},
	})
	if !strings.HasPrefix(out, "<ul><li>") || !strings.HasSuffix(out, "</li></ul>") {
		t.Fatalf("unexpected list %q", out)
	}
	if !strings.Contains(out, "&lt;b&gt;Count&lt;/b&gt;") || !strings.Contains(out, "A &amp; B") {
		t.Fatalf("text not escaped: %q", out)
	}
	if !strings.Contains(out, "(due 2024-01-02)") || strings.Count(out, "<li>") != 2 {
		t.Fatalf("unexpected items: %q", out)
	}
	if RenderHTML(nil) != "" {
		t.Fatalf("expected empty render")
	}
}

func TestParseKeepsQuotesInsideOneLine(t *testing.T) {
	data := []byte("\"Deep clean\" floor;Use the new machine;2024-05-01\r\n" +
		"Restock shelves;Aisle 4;2024-05-02\n" +
		"Count cash;;\n")
	tasks, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d: %+v", len(tasks), tasks)
	}
	if tasks[0].Title != `"Deep clean" floor` || tasks[0].Description != "Use the new machine" || tasks[0].DueDate == nil {
		t.Fatalf("unexpected first task %+v", tasks[0])
	}
	if tasks[1].Title != "Restock shelves" || tasks[2].Title != "Count cash" {
		t.Fatalf("unexpected titles %q %q", tasks[1].Title, tasks[2].Title)
	}
}

func TestParseUnterminatedQuoteStaysOnItsLine(t *testing.T) {
	tasks, err := Parse([]byte("\"Open;doors\nLock up;back door\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != `"Open` || tasks[0].Description != "doors" || tasks[1].Title != "Lock up" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}
