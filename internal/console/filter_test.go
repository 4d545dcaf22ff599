package console

import "testing"

func TestOutputFilterSearch(t *testing.T) {
	filter, err := NewOutputFilter("search", "hello", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("Hello world")
	if !result.Include {
		t.Fatalf("expected line to be included")
	}
	if len(result.Highlight) != 2 || result.Highlight[0] != 0 || result.Highlight[1] != 5 {
		t.Fatalf("unexpected highlight: %v", result.Highlight)
	}

	result = filter.Filter("goodbye")
	if result.Include {
		t.Fatalf("expected line to be excluded")
	}
}

func TestOutputFilterErrors(t *testing.T) {
	filter, err := NewOutputFilter("errors", "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("[12:00:01] [Server thread/ERROR]: Exception ticking world")
	if !result.Include {
		t.Fatalf("expected error line to be included")
	}

	result = filter.Filter("[12:00:02] [Server thread/INFO]: Done (3.2s)!")
	if result.Include {
		t.Fatalf("expected non-error line to be excluded")
	}
}

func TestOutputFilterRegex(t *testing.T) {
	filter, err := NewOutputFilter("regex", "joined the game$", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	lines := filter.FilterLines([]string{
		"Steve joined the game",
		"Steve left the game",
		"Alex JOINED THE GAME",
	})
	if len(lines) != 2 {
		t.Fatalf("expected 2 matching lines, got %v", lines)
	}
}

func TestNewOutputFilterRejectsBadInput(t *testing.T) {
	if _, err := NewOutputFilter("regex", "(", false); err == nil {
		t.Fatalf("expected invalid regex to fail")
	}
	if _, err := NewOutputFilter("fuzzy", "x", false); err == nil {
		t.Fatalf("expected unknown filter type to fail")
	}

	filter, err := NewOutputFilter("", "", false)
	if err != nil {
		t.Fatalf("failed to create default filter: %v", err)
	}
	if filter.FilterType != FilterNone {
		t.Fatalf("expected empty type to mean none, got %s", filter.FilterType)
	}
}
