package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatwarmer/internal/storage"
	logx "chatwarmer/pkg/logx"
)

var (
	ErrNotFound          = errors.New("template not found")
	ErrDuplicateName     = errors.New("template name already exists")
	ErrInactive          = errors.New("template is not active")
	ErrNoActiveTemplates = errors.New("no active templates")
)

var variableRe = regexp.MustCompile(`\{([^}]+)\}`)

// Template is the catalog view of a message template.
type Template = storage.Template

// Rendered is one generated message plus provenance.
type Rendered struct {
	Message      string
	TemplateID   string
	TemplateName string
}

// Catalog manages message templates and renders outgoing text.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template

	store storage.Store // nil means memory-only
	log   logx.Logger

	now  func() time.Time
	loc  *time.Location
	intn func(n int) int
}

func New(ctx context.Context, store storage.Store, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{
		templates: map[string]Template{},
		store:     store,
		log:       log,
		now:       time.Now,
		loc:       time.Local,
		intn:      rand.Intn,
	}
	if store != nil {
		list, err := store.ListTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		for _, t := range list {
			c.templates[t.ID] = t
		}
	}
	if len(c.templates) == 0 {
		if err := c.seed(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetTimezone sets the zone used for default variables like {timeOfDay}.
func (c *Catalog) SetTimezone(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}

// seed installs the stock template set on first run.
func (c *Catalog) seed(ctx context.Context) error {
	stock := []struct {
		name, category string
		variations     []string
	}{
		{"Morning Greeting", "greeting", []string{
			"Good morning {name}! Hope you have a wonderful day ahead!",
			"Morning {name}! Wishing you a productive day!",
			"Hey {name}, good morning! Hope everything is going well!",
		}},
		{"Afternoon Check-in", "check-in", []string{
			"Hi {name}, how's your day going so far?",
			"Hey {name}! Hope you're having a great afternoon!",
			"Good afternoon {name}! Just checking in to see how things are!",
		}},
		{"Evening Greeting", "greeting", []string{
			"Good evening {name}! Hope you had a great day!",
			"Evening {name}! How was your day today?",
			"Hey {name}, good evening! Hope you're winding down nicely!",
		}},
		{"Weekly Check-in", "check-in", []string{
			"Hi {name}! How has your week been going? It's {dayOfWeek} already!",
			"Hey {name}! Hope you're having a good {dayOfWeek}!",
			"Good {timeOfDay} {name}! Can't believe it's {dayOfWeek} already! Time flies!",
		}},
		{"Casual Chat", "casual", []string{
			"Hey {name}! What's new with you?",
			"Hi {name}! Hope all is well on your end!",
			"Hey there {name}! Just wanted to say hi!",
			"Hi {name}! How are things going?",
		}},
	}
	now := c.now()
	for _, s := range stock {
		t := Template{
			ID:         uuid.NewString(),
			Name:       s.name,
			Category:   s.category,
			Variations: s.variations,
			Active:     true,
			CreatedAt:  now,
		}
		c.templates[t.ID] = t
		if c.store != nil {
			if err := c.store.PutTemplate(ctx, t); err != nil {
				return err
			}
		}
	}
	c.log.Debug("stock templates seeded", logx.Int("count", len(stock)))
	return nil
}

// Create adds a template. Names are unique case-insensitively.
func (c *Catalog) Create(ctx context.Context, name, category string, variations []string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, errors.New("name is required")
	}
	variations = trimNonEmpty(variations)
	if len(variations) == 0 {
		return Template{}, errors.New("at least one variation is required")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = "general"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nameTakenLocked(name, "") {
		return Template{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	t := Template{
		ID:         uuid.NewString(),
		Name:       name,
		Category:   category,
		Variations: variations,
		Active:     true,
		CreatedAt:  c.now(),
	}
	if err := c.persistLocked(ctx, t); err != nil {
		return Template{}, err
	}
	c.templates[t.ID] = t
	c.log.Info("template added", logx.String("id", t.ID), logx.String("name", t.Name))
	return t, nil
}

// TemplateUpdate carries optional field changes; nil fields are untouched.
type TemplateUpdate struct {
	Name       *string   `json:"name,omitempty"`
	Category   *string   `json:"category,omitempty"`
	Variations *[]string `json:"variations,omitempty"`
	Active     *bool     `json:"active,omitempty"`
}

func (c *Catalog) Update(ctx context.Context, id string, upd TemplateUpdate) (Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Template{}, errors.New("name is required")
		}
		if c.nameTakenLocked(name, id) {
			return Template{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		t.Name = name
	}
	if upd.Category != nil {
		t.Category = strings.TrimSpace(*upd.Category)
	}
	if upd.Variations != nil {
		vs := trimNonEmpty(*upd.Variations)
		if len(vs) == 0 {
			return Template{}, errors.New("at least one variation is required")
		}
		t.Variations = vs
	}
	if upd.Active != nil {
		t.Active = *upd.Active
	}
	if err := c.persistLocked(ctx, t); err != nil {
		return Template{}, err
	}
	c.templates[id] = t
	return t, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.templates[id]; !ok {
		return ErrNotFound
	}
	if c.store != nil {
		if err := c.store.DeleteTemplate(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	delete(c.templates, id)
	return nil
}

func (c *Catalog) Get(id string) (Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

// List returns all templates sorted by name.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render generates a message from the given template, substituting {var}
// placeholders and bumping usage stats.
func (c *Catalog) Render(ctx context.Context, id string, vars map[string]string) (Rendered, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.templates[id]
	if !ok {
		return Rendered{}, ErrNotFound
	}
	if !t.Active {
		return Rendered{}, ErrInactive
	}
	return c.renderLocked(ctx, t, vars)
}

// RenderAny picks a uniformly random active template and renders it.
func (c *Catalog) RenderAny(ctx context.Context, vars map[string]string) (Rendered, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var active []Template
	for _, t := range c.templates {
		if t.Active && len(t.Variations) > 0 {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return Rendered{}, ErrNoActiveTemplates
	}
	// Stable order so the random index is reproducible under a seeded RNG.
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return c.renderLocked(ctx, active[c.intn(len(active))], vars)
}

func (c *Catalog) renderLocked(ctx context.Context, t Template, vars map[string]string) (Rendered, error) {
	text := t.Variations[c.intn(len(t.Variations))]

	all := c.defaultVarsLocked()
	for k, v := range vars {
		all[k] = v
	}
	msg := variableRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := all[key]; ok {
			return v
		}
		return m
	})

	t.UsageCount++
	t.LastUsedAt = c.now()
	c.templates[t.ID] = t
	if c.store != nil {
		if err := c.store.PutTemplate(ctx, t); err != nil {
			c.log.Debug("template usage persist failed", logx.String("id", t.ID), logx.Err(err))
		}
	}

	return Rendered{Message: msg, TemplateID: t.ID, TemplateName: t.Name}, nil
}

func (c *Catalog) defaultVarsLocked() map[string]string {
	now := c.now().In(c.loc)
	timeOfDay := "evening"
	switch h := now.Hour(); {
	case h < 12:
		timeOfDay = "morning"
	case h < 17:
		timeOfDay = "afternoon"
	}
	return map[string]string{
		"date":      now.Format("2006-01-02"),
		"time":      now.Format("15:04"),
		"dayOfWeek": now.Weekday().String(),
		"month":     now.Month().String(),
		"year":      now.Format("2006"),
		"timeOfDay": timeOfDay,
	}
}

// replyVariations are the stock acknowledgement lines used when answering an
// incoming warming message.
var replyVariations = []string{
	"Hey {name}, thanks for your message! How are you doing today?",
	"Hi {name}! Good to hear from you. What's new?",
	"Hello {name}! Thanks for reaching out. How's everything going?",
	"{name}, nice to hear from you! How have you been?",
}

// Reply returns a random acknowledgement addressed to the given name.
func (c *Catalog) Reply(name string) string {
	c.mu.Lock()
	text := replyVariations[c.intn(len(replyVariations))]
	c.mu.Unlock()
	return strings.ReplaceAll(text, "{name}", name)
}

// Stats summarizes the catalog for the status API.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Inactive   int            `json:"inactive"`
	TotalUsage int            `json:"total_usage"`
	Categories map[string]int `json:"categories"`
}

func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{Categories: map[string]int{}}
	for _, t := range c.templates {
		st.Total++
		if t.Active {
			st.Active++
		} else {
			st.Inactive++
		}
		st.TotalUsage += t.UsageCount
		cat := t.Category
		if cat == "" {
			cat = "general"
		}
		st.Categories[cat]++
	}
	return st
}

func (c *Catalog) nameTakenLocked(name, excludeID string) bool {
	for _, t := range c.templates {
		if t.ID != excludeID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (c *Catalog) persistLocked(ctx context.Context, t Template) error {
	if c.store == nil {
		return nil
	}
	return c.store.PutTemplate(ctx, t)
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
