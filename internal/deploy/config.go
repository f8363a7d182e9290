package deploy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Purpose is the deployment urgency.
type Purpose string

const (
	PurposeRequired  Purpose = "Required"
	PurposeAvailable Purpose = "Available"
)

// ParsePurpose parses a purpose case-insensitively.
func ParsePurpose(s string) (Purpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "required":
		return PurposeRequired, nil
	case "available":
		return PurposeAvailable, nil
	}
	return "", fmt.Errorf("invalid purpose %q: must be Required or Available", s)
}

// NotificationPolicy controls what end users see for the deployment.
type NotificationPolicy string

const (
	NotifyDisplayAll                NotificationPolicy = "DisplayAll"
	NotifyDisplaySoftwareCenterOnly NotificationPolicy = "DisplaySoftwareCenterOnly"
	NotifyHideAll                   NotificationPolicy = "HideAll"
)

// ParseNotificationPolicy parses a policy case-insensitively. The short
// forms "all", "softwarecenter" and "hide" are accepted as well.
func ParseNotificationPolicy(s string) (NotificationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "displayall", "all":
		return NotifyDisplayAll, nil
	case "displaysoftwarecenteronly", "softwarecenter", "softwarecenteronly":
		return NotifyDisplaySoftwareCenterOnly, nil
	case "hideall", "hide":
		return NotifyHideAll, nil
	}
	return "", fmt.Errorf("invalid notification policy %q: must be DisplayAll, DisplaySoftwareCenterOnly or HideAll", s)
}

// DeploymentConfig is built by the caller for one deployment.
// DeadlineAt is only meaningful when Purpose is Required.
type DeploymentConfig struct {
	Purpose                    Purpose            `validate:"oneof=Required Available"`
	AvailableAt                time.Time
	DeadlineAt                 time.Time
	Notification               NotificationPolicy `validate:"oneof=DisplayAll DisplaySoftwareCenterOnly HideAll"`
	OverrideServiceWindow      bool
	RebootOutsideServiceWindow bool
	AllowMeteredConnection     bool
	Comment                    string `validate:"max=512"`
}

var validate = validator.New()

// Validate checks the configuration structurally. The returned error wraps
// ErrInvalidConfig.
func (c DeploymentConfig) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if c.AvailableAt.IsZero() {
		problems = append(problems, "available time is required")
	}

	switch c.Purpose {
	case PurposeRequired:
		if c.DeadlineAt.IsZero() {
			problems = append(problems, "a deadline is required for Required deployments")
		} else if !c.AvailableAt.IsZero() && c.DeadlineAt.Before(c.AvailableAt) {
			problems = append(problems, "deadline must not be earlier than the available time")
		}
	case PurposeAvailable:
		if !c.DeadlineAt.IsZero() {
			problems = append(problems, "a deadline can only be set for Required deployments")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s %q must be one of: %s", strings.ToLower(fe.Field()), fe.Value(), fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", strings.ToLower(fe.Field()), fe.Param())
	}
	return fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag())
}
