// Package templates owns reusable role templates: creation against a
// per-user cap, hybrid-match lookup by task description, and rolling
// performance tracking across uses.
package templates

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/match"
	"github.com/emberlab/hearth/internal/store"
)

// MaxPerUser caps stored templates per user.
const MaxPerUser = 50

// Manager implements template operations.
type Manager struct {
	templates  store.TemplateStore
	matcher    *match.Matcher
	maxPerUser int
}

// Config configures a Manager.
type Config struct {
	Templates  store.TemplateStore
	Matcher    *match.Matcher
	MaxPerUser int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = MaxPerUser
	}
	if cfg.Matcher == nil {
		cfg.Matcher = match.New()
	}
	return &Manager{
		templates:  cfg.Templates,
		matcher:    cfg.Matcher,
		maxPerUser: cfg.MaxPerUser,
	}
}

// CreateSpec describes a new template.
type CreateSpec struct {
	UserID          string
	Name            string
	RoleDescription string
	DefaultTools    []string
	DefaultTier     string
	Tags            []string
}

// Create persists a new template with neutral starting stats.
func (m *Manager) Create(spec CreateSpec) (*store.Template, error) {
	if spec.UserID == "" || spec.Name == "" || spec.RoleDescription == "" {
		return nil, fmt.Errorf("create template: user_id, name, and role_description are required")
	}

	now := time.Now().UnixMilli()
	tpl := &store.Template{
		ID:              uuid.NewString(),
		UserID:          spec.UserID,
		Name:            spec.Name,
		RoleDescription: spec.RoleDescription,
		DefaultTools:    spec.DefaultTools,
		DefaultTier:     spec.DefaultTier,
		AvgPerformance:  0.5,
		Tags:            spec.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.templates.InsertTemplate(tpl, m.maxPerUser); err != nil {
		return nil, err
	}

	slog.Info("template created", "template", tpl.ID, "user", spec.UserID, "name", spec.Name)
	return tpl, nil
}

func (m *Manager) Get(id string) (*store.Template, error) {
	return m.templates.GetTemplate(id)
}

func (m *Manager) List(userID string) ([]store.Template, error) {
	return m.templates.ListTemplates(userID)
}

// FindBestMatch scores taskDescription against each template's searchable
// text (name, role description, tags) and returns the best hit at the
// matcher's default threshold, or nil.
func (m *Manager) FindBestMatch(userID, taskDescription string) (*store.Template, error) {
	list, err := m.templates.ListTemplates(userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	candidates := make([]match.Candidate, len(list))
	for i := range list {
		candidates[i] = match.Candidate{
			Text:  searchableText(&list[i]),
			Value: &list[i],
		}
	}
	best, score, ok := m.matcher.FindBest(taskDescription, candidates)
	if !ok {
		return nil, nil
	}

	tpl := best.Value.(*store.Template)
	slog.Debug("template matched", "template", tpl.ID, "name", tpl.Name, "score", score)
	return tpl, nil
}

func searchableText(t *store.Template) string {
	return t.Name + " " + t.RoleDescription + " " + strings.Join(t.Tags, " ")
}

// UpdateSpec patches mutable template fields. Nil slices and empty strings
// leave the current value in place.
type UpdateSpec struct {
	Name            string
	RoleDescription string
	DefaultTools    []string
	DefaultTier     string
	Tags            []string
}

func (m *Manager) Update(id string, spec UpdateSpec) (*store.Template, error) {
	tpl, err := m.templates.GetTemplate(id)
	if err != nil {
		return nil, err
	}
	if spec.Name != "" {
		tpl.Name = spec.Name
	}
	if spec.RoleDescription != "" {
		tpl.RoleDescription = spec.RoleDescription
	}
	if spec.DefaultTools != nil {
		tpl.DefaultTools = spec.DefaultTools
	}
	if spec.DefaultTier != "" {
		tpl.DefaultTier = spec.DefaultTier
	}
	if spec.Tags != nil {
		tpl.Tags = spec.Tags
	}
	tpl.UpdatedAt = time.Now().UnixMilli()
	if err := m.templates.UpdateTemplate(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// RecordUsage folds one use into the template's running mean performance.
func (m *Manager) RecordUsage(id string, performanceScore float64) error {
	tpl, err := m.templates.GetTemplate(id)
	if err != nil {
		return err
	}
	total := tpl.AvgPerformance*float64(tpl.TimesUsed) + performanceScore
	tpl.TimesUsed++
	tpl.AvgPerformance = total / float64(tpl.TimesUsed)
	tpl.UpdatedAt = time.Now().UnixMilli()
	return m.templates.UpdateTemplate(tpl)
}

func (m *Manager) Delete(id string) error {
	return m.templates.DeleteTemplate(id)
}
