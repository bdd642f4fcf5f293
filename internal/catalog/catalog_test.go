package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	logx "chatwarmer/pkg/logx"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(context.Background(), nil, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Deterministic picks.
	c.intn = func(n int) int { return 0 }
	return c
}

func TestSeedOnEmpty(t *testing.T) {
	c := newTestCatalog(t)
	list := c.List()
	if len(list) != 5 {
		t.Fatalf("seeded %d templates, want 5", len(list))
	}
	for _, tpl := range list {
		if !tpl.Active || len(tpl.Variations) == 0 {
			t.Fatalf("bad seed: %+v", tpl)
		}
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.Create(ctx, "Custom", "casual", []string{"yo {name}"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(ctx, "custom", "casual", []string{"yo"}); err == nil {
		t.Fatal("expected duplicate name error (case-insensitive)")
	}
	if _, err := c.Create(ctx, "Empty", "", []string{"  ", ""}); err == nil {
		t.Fatal("expected error for all-blank variations")
	}
}

func TestRenderSubstitutesVariables(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	tpl, err := c.Create(ctx, "Vars", "test", []string{"Hi {name}, today is {dayOfWeek} ({date})"})
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) } // a Monday
	c.loc = time.UTC

	r, err := c.Render(ctx, tpl.ID, map[string]string{"name": "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	want := "Hi Alice, today is Monday (2026-03-02)"
	if r.Message != want {
		t.Fatalf("got %q, want %q", r.Message, want)
	}

	got, _ := c.Get(tpl.ID)
	if got.UsageCount != 1 || got.LastUsedAt.IsZero() {
		t.Fatalf("usage not recorded: %+v", got)
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	tpl, _ := c.Create(ctx, "Unknown", "test", []string{"Hi {name}, ref {ticket}"})
	r, err := c.Render(ctx, tpl.ID, map[string]string{"name": "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Message, "{ticket}") {
		t.Fatalf("unknown placeholder should survive: %q", r.Message)
	}
}

func TestRenderInactive(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	tpl, _ := c.Create(ctx, "Off", "test", []string{"x"})
	off := false
	if _, err := c.Update(ctx, tpl.ID, TemplateUpdate{Active: &off}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Render(ctx, tpl.ID, nil); err != ErrInactive {
		t.Fatalf("want ErrInactive, got %v", err)
	}
}

func TestRenderAnyNoActive(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	off := false
	for _, tpl := range c.List() {
		if _, err := c.Update(ctx, tpl.ID, TemplateUpdate{Active: &off}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.RenderAny(ctx, nil); err != ErrNoActiveTemplates {
		t.Fatalf("want ErrNoActiveTemplates, got %v", err)
	}
}

func TestTimeOfDayBuckets(t *testing.T) {
	c := newTestCatalog(t)
	c.loc = time.UTC
	cases := []struct {
		hour int
		want string
	}{
		{8, "morning"},
		{13, "afternoon"},
		{20, "evening"},
	}
	ctx := context.Background()
	tpl, _ := c.Create(ctx, "TOD", "test", []string{"{timeOfDay}"})
	for _, tc := range cases {
		c.now = func() time.Time { return time.Date(2026, 1, 1, tc.hour, 0, 0, 0, time.UTC) }
		r, err := c.Render(ctx, tpl.ID, nil)
		if err != nil {
			t.Fatal(err)
		}
		if r.Message != tc.want {
			t.Errorf("hour %d: got %q, want %q", tc.hour, r.Message, tc.want)
		}
	}
}

func TestReply(t *testing.T) {
	c := newTestCatalog(t)
	msg := c.Reply("Carol")
	if !strings.Contains(msg, "Carol") {
		t.Fatalf("reply should address recipient: %q", msg)
	}
}

func TestStats(t *testing.T) {
	c := newTestCatalog(t)
	st := c.Stats()
	if st.Total != 5 || st.Active != 5 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Categories["greeting"] != 2 {
		t.Fatalf("categories = %v", st.Categories)
	}
}
