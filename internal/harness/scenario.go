package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coachflow/internal/domain"
)

// Scenario defines an end-to-end engine test: seed data, a script of
// steps, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the initial clock instant, RFC 3339.
	Start string `yaml:"start"`

	// Seed data, loaded before any step runs. Groups load before
	// directives so group scopes resolve.
	Clients    []ClientSeed    `yaml:"clients,omitempty"`
	Groups     []GroupSeed     `yaml:"groups,omitempty"`
	Directives []DirectiveSeed `yaml:"directives"`

	// Steps is the script. Each step sets exactly one field.
	Steps []Step `yaml:"steps"`

	// Assertions validate firings and scores after the script completes.
	Assertions []Assertion `yaml:"assertions"`
}

// ClientSeed seeds one client row.
type ClientSeed struct {
	ID       string             `yaml:"id"`
	Mentor   string             `yaml:"mentor"`
	Name     string             `yaml:"name,omitempty"`
	Status   string             `yaml:"status,omitempty"` // default "active"
	Timezone string             `yaml:"timezone,omitempty"`
	Program  *ProgramSeed       `yaml:"program,omitempty"`
	Goals    map[string]float64 `yaml:"goals,omitempty"`
}

// ProgramSeed anchors a client to a cohort start date.
type ProgramSeed struct {
	Cohort string `yaml:"cohort"`
	Start  string `yaml:"start"` // RFC 3339 or YYYY-MM-DD
}

// GroupSeed seeds one group row.
type GroupSeed struct {
	ID      string   `yaml:"id"`
	Mentor  string   `yaml:"mentor"`
	Name    string   `yaml:"name,omitempty"`
	Members []string `yaml:"members,omitempty"`
}

// DirectiveSeed seeds one directive. The trigger mirrors the domain
// tagged union: exactly one of event, schedule, condition.
type DirectiveSeed struct {
	ID     string `yaml:"id"`
	Mentor string `yaml:"mentor"`
	Name   string `yaml:"name,omitempty"`

	Scope       string `yaml:"scope"` // "all" | "group:<id>" | "client:<id>"
	Event       string `yaml:"event,omitempty"`
	Schedule    *ScheduleSeed  `yaml:"schedule,omitempty"`
	Condition   *ConditionSeed `yaml:"condition,omitempty"`

	Data       []DataSeed        `yaml:"data,omitempty"`
	Action     string            `yaml:"action"`
	Params     map[string]string `yaml:"params,omitempty"`
	ToClient   bool              `yaml:"to_client,omitempty"`
	ToMentor   bool              `yaml:"to_mentor,omitempty"`
}

// ScheduleSeed mirrors domain.ScheduleTrigger.
type ScheduleSeed struct {
	Frequency string   `yaml:"frequency"`
	At        string   `yaml:"at"` // "HH:MM" local
	Weekdays  []string `yaml:"weekdays,omitempty"`
	Week      int      `yaml:"week,omitempty"`
	Day       int      `yaml:"day,omitempty"`
}

// ConditionSeed mirrors domain.ConditionTrigger.
type ConditionSeed struct {
	Metric    string  `yaml:"metric"`
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`
}

// DataSeed mirrors domain.DataPointSpec.
type DataSeed struct {
	Metric  string `yaml:"metric"`
	Compare string `yaml:"compare"`
}

// Step is one scripted action. Exactly one field must be set.
type Step struct {
	// Advance moves the clock forward (Go duration string) and then runs
	// the scheduler, drains the queue, and resolves due outcomes.
	Advance string `yaml:"advance,omitempty"`

	// Event submits a client event and drains the queue.
	Event *EventStep `yaml:"event,omitempty"`

	// Metric submits a metric snapshot and drains the queue.
	Metric *MetricStep `yaml:"metric,omitempty"`

	// Feedback records an engagement signal for a firing record.
	Feedback *FeedbackStep `yaml:"feedback,omitempty"`
}

// EventStep mirrors domain.Event.
type EventStep struct {
	Client string `yaml:"client"`
	Type   string `yaml:"type"`
}

// MetricStep mirrors domain.MetricSnapshot.
type MetricStep struct {
	Client string  `yaml:"client"`
	Metric string  `yaml:"metric"`
	Value  float64 `yaml:"value"`
}

// FeedbackStep records a signal against the Nth delivery (1-based).
type FeedbackStep struct {
	Delivery int     `yaml:"delivery"`
	Signal   float64 `yaml:"signal"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Start == "" {
		return fmt.Errorf("start is required")
	}
	if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if len(s.Directives) == 0 {
		return fmt.Errorf("directives list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		n := 0
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d].advance: %w", i, err)
			}
			n++
		}
		if step.Event != nil {
			n++
		}
		if step.Metric != nil {
			n++
		}
		if step.Feedback != nil {
			n++
		}
		if n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of advance, event, metric, feedback must be set", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// directive converts the seed into a domain directive.
func (d DirectiveSeed) directive() (domain.Directive, error) {
	out := domain.Directive{
		ID:           d.ID,
		MentorID:     d.Mentor,
		Name:         d.Name,
		Action:       domain.ActionType(d.Action),
		ActionParams: d.Params,
		Delivery:     domain.DeliverySpec{Tone: "neutral", Urgency: "normal", Format: "short"},
		Recipients:   domain.Recipients{ToClient: d.ToClient, ToMentor: d.ToMentor},
		IsActive:     true,
	}
	if out.Name == "" {
		out.Name = d.ID
	}

	scope, err := parseScopeSeed(d.Scope)
	if err != nil {
		return out, err
	}
	out.Scope = scope

	if d.Event != "" {
		out.Trigger.Event = &domain.EventTrigger{EventType: d.Event}
	}
	if d.Schedule != nil {
		sched, err := d.Schedule.trigger()
		if err != nil {
			return out, err
		}
		out.Trigger.Schedule = sched
	}
	if d.Condition != nil {
		out.Trigger.Condition = &domain.ConditionTrigger{
			MetricID:  d.Condition.Metric,
			Operator:  domain.Operator(d.Condition.Op),
			Threshold: d.Condition.Threshold,
		}
	}

	for _, dp := range d.Data {
		out.DataPoints = append(out.DataPoints, domain.DataPointSpec{
			MetricID:   dp.Metric,
			Comparison: domain.Comparison(dp.Compare),
		})
	}
	return out, nil
}

func parseScopeSeed(s string) (domain.Scope, error) {
	switch {
	case s == "all":
		return domain.Scope{Kind: domain.ScopeAll}, nil
	case len(s) > 6 && s[:6] == "group:":
		return domain.Scope{Kind: domain.ScopeGroup, GroupID: s[6:]}, nil
	case len(s) > 7 && s[:7] == "client:":
		return domain.Scope{Kind: domain.ScopeClient, ClientID: s[7:]}, nil
	default:
		return domain.Scope{}, fmt.Errorf("invalid scope %q", s)
	}
}

func (s ScheduleSeed) trigger() (*domain.ScheduleTrigger, error) {
	sched := &domain.ScheduleTrigger{
		Frequency: domain.Frequency(s.Frequency),
		Week:      s.Week,
		Day:       s.Day,
	}
	if _, err := fmt.Sscanf(s.At, "%d:%d", &sched.Hour, &sched.Minute); err != nil {
		return nil, fmt.Errorf("invalid schedule time %q", s.At)
	}

	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday,
	}
	for _, day := range s.Weekdays {
		wd, ok := names[day]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", day)
		}
		sched.Weekdays = append(sched.Weekdays, wd)
	}
	return sched, nil
}

// client converts the seed into a domain client.
func (c ClientSeed) client() (domain.Client, error) {
	out := domain.Client{
		ID:          c.ID,
		MentorID:    c.Mentor,
		Name:        c.Name,
		Status:      domain.ClientActive,
		Timezone:    c.Timezone,
		GoalTargets: c.Goals,
	}
	if c.Status != "" {
		out.Status = domain.ClientStatus(c.Status)
	}
	if c.Program != nil {
		start, err := parseDate(c.Program.Start)
		if err != nil {
			return out, fmt.Errorf("client %s program start: %w", c.ID, err)
		}
		out.Program = &domain.ProgramMembership{
			CohortID:  c.Program.Cohort,
			StartDate: start,
		}
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
