// Package templates loads and saves named deployment presets. Each preset
// lives in its own YAML file in a templates directory.
package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Template is a reusable deployment configuration preset.
type Template struct {
	Name                       string                    `yaml:"name" validate:"required,max=100"`
	Purpose                    deploy.Purpose            `yaml:"purpose" validate:"oneof=Required Available"`
	Notification               deploy.NotificationPolicy `yaml:"notification" validate:"oneof=DisplayAll DisplaySoftwareCenterOnly HideAll"`
	OverrideServiceWindow      bool                      `yaml:"override_service_window"`
	RebootOutsideServiceWindow bool                      `yaml:"reboot_outside_service_window"`
	AllowMeteredConnection     bool                      `yaml:"allow_metered_connection"`
	DefaultDeadlineOffsetHours int                       `yaml:"default_deadline_offset_hours" validate:"gte=0,lte=8760"`

	// Path is the file the template was loaded from.
	Path string `yaml:"-"`
}

var validate = validator.New()

// ErrExists is returned by Save when a template file already exists.
var ErrExists = errors.New("template already exists")

// normalize accepts purpose and notification values in any case, then
// validates the template.
func (t *Template) normalize() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Purpose == "" {
		t.Purpose = deploy.PurposeAvailable
	}
	p, err := deploy.ParsePurpose(string(t.Purpose))
	if err != nil {
		return err
	}
	t.Purpose = p

	if t.Notification == "" {
		t.Notification = deploy.NotifyDisplayAll
	}
	n, err := deploy.ParseNotificationPolicy(string(t.Notification))
	if err != nil {
		return err
	}
	t.Notification = n

	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// Apply builds a deployment configuration starting at availableAt. Required
// presets get a deadline DefaultDeadlineOffsetHours after availableAt; with
// no offset the deadline stays unset and must be chosen per deployment.
func (t Template) Apply(availableAt time.Time) deploy.DeploymentConfig {
	cfg := deploy.DeploymentConfig{
		Purpose:                    t.Purpose,
		AvailableAt:                availableAt,
		Notification:               t.Notification,
		OverrideServiceWindow:      t.OverrideServiceWindow,
		RebootOutsideServiceWindow: t.RebootOutsideServiceWindow,
		AllowMeteredConnection:     t.AllowMeteredConnection,
	}
	if t.Purpose == deploy.PurposeRequired && t.DefaultDeadlineOffsetHours > 0 {
		cfg.DeadlineAt = availableAt.Add(time.Duration(t.DefaultDeadlineOffsetHours) * time.Hour)
	}
	return cfg
}

// LoadError describes a template file that was skipped.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Is matches deploy.ErrParseSkipped.
func (e *LoadError) Is(target error) bool {
	return target == deploy.ErrParseSkipped
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadAll reads every *.yaml and *.yml file in dir in lexical order. Files
// that fail to parse or validate are skipped, logged and reported as
// LoadErrors. A missing directory yields no templates and no error.
func LoadAll(dir string, logger *slog.Logger) ([]Template, []*LoadError, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	var (
		out     []Template
		skipped []*LoadError
		seen    = make(map[string]string)
	)
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		t, err := loadFile(path)
		if err == nil {
			if prev, dup := seen[strings.ToLower(t.Name)]; dup {
				err = fmt.Errorf("duplicate template name %q (already defined in %s)", t.Name, filepath.Base(prev))
			}
		}
		if err != nil {
			logger.Warn("skipping template", "path", path, "error", err)
			skipped = append(skipped, &LoadError{Path: path, Err: err})
			continue
		}
		seen[strings.ToLower(t.Name)] = path
		out = append(out, t)
	}
	return out, skipped, nil
}

func loadFile(path string) (Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Template{}, err
	}
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Template{}, fmt.Errorf("failed to parse: %w", err)
	}
	if err := t.normalize(); err != nil {
		return Template{}, err
	}
	t.Path = path
	return t, nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(name, ".")
}

// Find returns the template named name, ignoring case.
func Find(all []Template, name string) (Template, bool) {
	for _, t := range all {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return t, true
		}
	}
	return Template{}, false
}

// Names returns the template names sorted alphabetically.
func Names(all []Template) []string {
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Save validates t and writes it to dir as <slug>.yaml. An existing file is
// only replaced when overwrite is set. It returns the written path.
func Save(dir string, t Template, overwrite bool) (string, error) {
	if err := t.normalize(); err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}
	slug := Slug(t.Name)
	if slug == "" {
		return "", fmt.Errorf("invalid template: name %q has no usable characters", t.Name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create templates directory: %w", err)
	}
	path := filepath.Join(dir, slug+".yaml")

	raw, err := yaml.Marshal(&t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("failed to write template: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write template: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write template: %w", err)
	}
	return path, nil
}

// Slug turns a template name into a file name stem.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
