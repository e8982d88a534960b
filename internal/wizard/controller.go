// Package wizard drives the campaign composition steps over a CampaignDraft.
//
// Navigation is gated per step by CanAdvance. Submission is gated separately by
// ValidateForSubmission, which re-checks every step and the schedule against the clock.
package wizard

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// Step is a position in the wizard
type Step int

// Wizard steps, in order
const (
	StepDetails Step = iota
	StepAudience
	StepMessage
	StepSchedule
	StepPreview
)

// LastStep is the final index of the wizard
const LastStep = StepPreview

var stepNames = [...]string{"details", "audience", "message", "schedule", "preview"}

func (s Step) String() string {
	if s < StepDetails || s > LastStep {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ClampStep bounds an arbitrary index to the wizard's range
func ClampStep(i int) Step {
	if i < int(StepDetails) {
		return StepDetails
	}
	if i > int(LastStep) {
		return LastStep
	}
	return Step(i)
}

// ValidateStep returns the validation error blocking navigation past step, or nil
func ValidateStep(draft models.CampaignDraft, step Step) error {
	switch step {
	case StepDetails:
		if strings.TrimSpace(draft.Name) == "" {
			return models.ErrInvalidInput("name is required")
		}
	case StepAudience:
		if !draft.Audience.IsValid() {
			return models.ErrInvalidInput(fmt.Sprintf("invalid audience: %s", draft.Audience))
		}
		if draft.Audience == models.AudienceCustom && len(draft.CustomAudience) == 0 {
			return models.ErrInvalidInput("custom audience requires at least one member")
		}
	case StepMessage:
		if strings.TrimSpace(draft.Body) == "" {
			return models.ErrInvalidInput("message body is required")
		}
		if n := utf8.RuneCountInString(draft.Body); n > models.MaxBodyLength {
			return models.ErrInvalidInput(fmt.Sprintf("message body is %d characters, limit is %d", n, models.MaxBodyLength))
		}
	}
	// Schedule is optional and preview is read-only.
	return nil
}

// CanAdvance reports whether the wizard may move forward from step
func CanAdvance(draft models.CampaignDraft, step Step) bool {
	return ValidateStep(draft, step) == nil
}

// ValidateForSubmission re-runs every step validator and checks that a scheduled time is
// strictly after now. It is the submission gate; CanAdvance is only the navigation gate.
func ValidateForSubmission(draft models.CampaignDraft, now time.Time) error {
	for step := StepDetails; step <= LastStep; step++ {
		if err := ValidateStep(draft, step); err != nil {
			return err
		}
	}
	if draft.ScheduledAt != nil && !draft.ScheduledAt.After(now) {
		return models.ErrInvalidInput("scheduled time must be in the future")
	}
	return nil
}

// Controller owns a draft and the current step for one wizard session
type Controller struct {
	draft models.CampaignDraft
	step  Step
}

// NewController resumes a wizard at step with the given draft
func NewController(draft models.CampaignDraft, step int) *Controller {
	if draft.Audience == "" {
		draft.Audience = models.AudienceAll
	}
	if draft.CustomAudience == nil {
		draft.CustomAudience = []string{}
	}
	return &Controller{draft: draft, step: ClampStep(step)}
}

// Draft returns a copy of the current draft
func (c *Controller) Draft() models.CampaignDraft {
	return c.draft.Clone()
}

// Step returns the current step
func (c *Controller) Step() Step {
	return c.step
}

// CanAdvance reports whether the current step's validator passes
func (c *Controller) CanAdvance() bool {
	return CanAdvance(c.draft, c.step)
}

// Advance moves one step forward when the current step is valid. It reports whether the
// step index changed.
func (c *Controller) Advance() bool {
	if !c.CanAdvance() || c.step == LastStep {
		return false
	}
	c.step++
	return true
}

// Retreat moves one step back, stopping at the first step
func (c *Controller) Retreat() bool {
	if c.step == StepDetails {
		return false
	}
	c.step--
	return true
}

// SetName replaces the campaign name
func (c *Controller) SetName(name string) {
	c.draft.Name = name
}

// SetBody replaces the message body. Length is enforced by the step validator, not here.
func (c *Controller) SetBody(body string) {
	c.draft.Body = body
}

// SetAudience changes the selector. Leaving CUSTOM clears the custom list; entering
// CUSTOM leaves it as it is.
func (c *Controller) SetAudience(a models.AudienceSelector) error {
	if !a.IsValid() {
		return models.ErrInvalidInput(fmt.Sprintf("invalid audience: %s", a))
	}
	if a != models.AudienceCustom {
		c.draft.CustomAudience = []string{}
	}
	c.draft.Audience = a
	return nil
}

// SetCustomAudience replaces the custom member list, dropping blanks and duplicates
func (c *Controller) SetCustomAudience(ids []string) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	c.draft.CustomAudience = out
}

// SetSchedule sets or clears the deferred send time
func (c *Controller) SetSchedule(at *time.Time) {
	if at == nil {
		c.draft.ScheduledAt = nil
		return
	}
	t := at.UTC()
	c.draft.ScheduledAt = &t
}

// Patch is a partial update of a draft. Nil fields are left unchanged.
type Patch struct {
	Name           *string
	Audience       *models.AudienceSelector
	CustomAudience []string
	Body           *string
	ScheduledAt    *time.Time
	ClearSchedule  bool
}

// Apply applies p. The audience is applied before the custom list so a single patch can
// switch to CUSTOM and fill it.
func (c *Controller) Apply(p Patch) error {
	if p.Audience != nil {
		if err := c.SetAudience(*p.Audience); err != nil {
			return err
		}
	}
	if p.CustomAudience != nil {
		if c.draft.Audience != models.AudienceCustom {
			return models.ErrInvalidInput("custom_audience requires audience CUSTOM")
		}
		c.SetCustomAudience(p.CustomAudience)
	}
	if p.Name != nil {
		c.SetName(*p.Name)
	}
	if p.Body != nil {
		c.SetBody(*p.Body)
	}
	switch {
	case p.ClearSchedule:
		c.SetSchedule(nil)
	case p.ScheduledAt != nil:
		c.SetSchedule(p.ScheduledAt)
	}
	return nil
}
