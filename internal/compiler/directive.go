// Package compiler parses mentor-authored CUE directive files into
// domain directives. CUE gives authors constraints and composition for
// free; the compiler only maps the evaluated values onto the domain
// types and reports positions for anything malformed.
package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/coachflow/internal/domain"
)

// scopeTargetPattern matches group("id") and client("id").
var scopeTargetPattern = regexp.MustCompile(`^(group|client)\("([^"]+)"\)$`)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// CompileFile parses a CUE source containing one or more directives:
//
//	directive: "morning-checkin": {
//	    mentor: "m-1"
//	    scope:  "all"
//	    trigger: schedule: {frequency: "daily", at: "07:30"}
//	    action: "remind"
//	    recipients: client: true
//	}
//
// Each entry under "directive" becomes one domain.Directive with the
// label as its ID. Structural validation happens here; referential
// checks (scope target exists) happen at load time in the store.
func CompileFile(filename string, src []byte) ([]domain.Directive, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("directive"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "directive",
			Message: "no directives found",
			Pos:     v.Pos(),
		}
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []domain.Directive
	for iter.Next() {
		d, err := CompileDirective(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if len(out) == 0 {
		return nil, &CompileError{
			Field:   "directive",
			Message: "no directives found",
			Pos:     root.Pos(),
		}
	}
	return out, nil
}

// CompileDirective parses one directive struct. The directive ID comes
// from the struct label.
func CompileDirective(v cue.Value) (*domain.Directive, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := &domain.Directive{IsActive: true}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		d.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if d.MentorID, err = requiredString(v, "mentor"); err != nil {
		return nil, err
	}
	if d.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = d.ID
	}

	if d.Scope, err = parseScope(v); err != nil {
		return nil, err
	}
	if d.Trigger, err = parseTrigger(v); err != nil {
		return nil, err
	}
	if d.DataPoints, err = parseDataPoints(v); err != nil {
		return nil, err
	}

	action, err := requiredString(v, "action")
	if err != nil {
		return nil, err
	}
	d.Action = domain.ActionType(action)

	if d.ActionParams, err = parseStringMap(v, "params"); err != nil {
		return nil, err
	}
	if d.Delivery, err = parseDelivery(v); err != nil {
		return nil, err
	}
	if d.Recipients, err = parseRecipients(v); err != nil {
		return nil, err
	}

	activeVal := v.LookupPath(cue.ParsePath("active"))
	if activeVal.Exists() {
		active, err := activeVal.Bool()
		if err != nil {
			return nil, &CompileError{Field: "active", Message: "active must be a bool", Pos: activeVal.Pos()}
		}
		d.IsActive = active
	}

	if err := d.Validate(); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, &CompileError{Field: ve.Field, Message: ve.Message, Pos: v.Pos()}
		}
		return nil, err
	}
	return d, nil
}

// parseScope accepts "all", group("id"), or client("id").
func parseScope(v cue.Value) (domain.Scope, error) {
	scopeVal := v.LookupPath(cue.ParsePath("scope"))
	if !scopeVal.Exists() {
		return domain.Scope{}, &CompileError{
			Field:   "scope",
			Message: "scope is required",
			Pos:     v.Pos(),
		}
	}

	scopeStr, err := scopeVal.String()
	if err != nil {
		return domain.Scope{}, formatCUEError(err)
	}

	if matches := scopeTargetPattern.FindStringSubmatch(scopeStr); matches != nil {
		if matches[1] == "group" {
			return domain.Scope{Kind: domain.ScopeGroup, GroupID: matches[2]}, nil
		}
		return domain.Scope{Kind: domain.ScopeClient, ClientID: matches[2]}, nil
	}

	if scopeStr != string(domain.ScopeAll) {
		return domain.Scope{}, &CompileError{
			Field:   "scope",
			Message: fmt.Sprintf("invalid scope %q, must be \"all\", group(\"id\"), or client(\"id\")", scopeStr),
			Pos:     scopeVal.Pos(),
		}
	}
	return domain.Scope{Kind: domain.ScopeAll}, nil
}

// parseTrigger requires exactly one of trigger.event, trigger.schedule,
// trigger.condition.
func parseTrigger(v cue.Value) (domain.Trigger, error) {
	trigVal := v.LookupPath(cue.ParsePath("trigger"))
	if !trigVal.Exists() {
		return domain.Trigger{}, &CompileError{
			Field:   "trigger",
			Message: "trigger is required",
			Pos:     v.Pos(),
		}
	}

	var trig domain.Trigger

	if eventVal := trigVal.LookupPath(cue.ParsePath("event")); eventVal.Exists() {
		eventType, err := requiredString(eventVal, "type")
		if err != nil {
			return trig, err
		}
		trig.Event = &domain.EventTrigger{EventType: eventType}
	}

	if schedVal := trigVal.LookupPath(cue.ParsePath("schedule")); schedVal.Exists() {
		sched, err := parseSchedule(schedVal)
		if err != nil {
			return trig, err
		}
		trig.Schedule = sched
	}

	if condVal := trigVal.LookupPath(cue.ParsePath("condition")); condVal.Exists() {
		cond, err := parseCondition(condVal)
		if err != nil {
			return trig, err
		}
		trig.Condition = cond
	}

	if _, err := trig.Kind(); err != nil {
		return trig, &CompileError{
			Field:   "trigger",
			Message: "trigger requires exactly one of event, schedule, condition",
			Pos:     trigVal.Pos(),
		}
	}
	return trig, nil
}

func parseSchedule(v cue.Value) (*domain.ScheduleTrigger, error) {
	sched := &domain.ScheduleTrigger{}

	freq, err := requiredString(v, "frequency")
	if err != nil {
		return nil, err
	}
	sched.Frequency = domain.Frequency(freq)

	at, err := requiredString(v, "at")
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Sscanf(at, "%d:%d", &sched.Hour, &sched.Minute); err != nil {
		return nil, &CompileError{
			Field:   "trigger.schedule.at",
			Message: fmt.Sprintf("invalid time %q, expected \"HH:MM\"", at),
			Pos:     v.Pos(),
		}
	}

	daysVal := v.LookupPath(cue.ParsePath("weekdays"))
	if daysVal.Exists() {
		iter, err := daysVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			wd, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return nil, &CompileError{
					Field:   "trigger.schedule.weekdays",
					Message: fmt.Sprintf("unknown weekday %q", name),
					Pos:     iter.Value().Pos(),
				}
			}
			sched.Weekdays = append(sched.Weekdays, wd)
		}
	}

	if sched.Week, err = optionalInt(v, "week"); err != nil {
		return nil, err
	}
	if sched.Day, err = optionalInt(v, "day"); err != nil {
		return nil, err
	}
	return sched, nil
}

func parseCondition(v cue.Value) (*domain.ConditionTrigger, error) {
	cond := &domain.ConditionTrigger{}

	metric, err := requiredString(v, "metric")
	if err != nil {
		return nil, err
	}
	cond.MetricID = metric

	op, err := requiredString(v, "op")
	if err != nil {
		return nil, err
	}
	cond.Operator = domain.Operator(op)

	threshVal := v.LookupPath(cue.ParsePath("threshold"))
	if !threshVal.Exists() {
		return nil, &CompileError{
			Field:   "trigger.condition.threshold",
			Message: "threshold is required",
			Pos:     v.Pos(),
		}
	}
	if cond.Threshold, err = threshVal.Float64(); err != nil {
		return nil, &CompileError{
			Field:   "trigger.condition.threshold",
			Message: "threshold must be a number",
			Pos:     threshVal.Pos(),
		}
	}

	if cond.Unit, err = optionalString(v, "unit"); err != nil {
		return nil, err
	}
	return cond, nil
}

func parseDataPoints(v cue.Value) ([]domain.DataPointSpec, error) {
	dataVal := v.LookupPath(cue.ParsePath("data"))
	if !dataVal.Exists() {
		return nil, nil
	}

	iter, err := dataVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []domain.DataPointSpec
	for iter.Next() {
		item := iter.Value()
		metric, err := requiredString(item, "metric")
		if err != nil {
			return nil, err
		}
		compare, err := requiredString(item, "compare")
		if err != nil {
			return nil, err
		}
		specs = append(specs, domain.DataPointSpec{
			MetricID:   metric,
			Comparison: domain.Comparison(compare),
		})
	}
	return specs, nil
}

func parseDelivery(v cue.Value) (domain.DeliverySpec, error) {
	spec := domain.DeliverySpec{Tone: "neutral", Urgency: "normal", Format: "short"}

	delVal := v.LookupPath(cue.ParsePath("delivery"))
	if !delVal.Exists() {
		return spec, nil
	}

	var err error
	if tone, e := optionalString(delVal, "tone"); e != nil {
		err = e
	} else if tone != "" {
		spec.Tone = tone
	}
	if err != nil {
		return spec, err
	}
	if urgency, e := optionalString(delVal, "urgency"); e != nil {
		return spec, e
	} else if urgency != "" {
		spec.Urgency = urgency
	}
	if format, e := optionalString(delVal, "format"); e != nil {
		return spec, e
	} else if format != "" {
		spec.Format = format
	}
	return spec, nil
}

func parseRecipients(v cue.Value) (domain.Recipients, error) {
	var r domain.Recipients

	recVal := v.LookupPath(cue.ParsePath("recipients"))
	if !recVal.Exists() {
		return r, &CompileError{
			Field:   "recipients",
			Message: "recipients is required",
			Pos:     v.Pos(),
		}
	}

	for _, field := range []struct {
		name string
		dst  *bool
	}{{"client", &r.ToClient}, {"mentor", &r.ToMentor}} {
		val := recVal.LookupPath(cue.ParsePath(field.name))
		if !val.Exists() {
			continue
		}
		b, err := val.Bool()
		if err != nil {
			return r, &CompileError{
				Field:   "recipients." + field.name,
				Message: "recipient flag must be a bool",
				Pos:     val.Pos(),
			}
		}
		*field.dst = b
	}
	return r, nil
}

func parseStringMap(v cue.Value, field string) (map[string]string, error) {
	mapVal := v.LookupPath(cue.ParsePath(field))
	if !mapVal.Exists() {
		return nil, nil
	}

	iter, err := mapVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	out := make(map[string]string)
	for iter.Next() {
		val, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.%s", field, iter.Label()),
				Message: "value must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		out[iter.Label()] = val
	}
	return out, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be a string",
			Pos:     val.Pos(),
		}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be a string",
			Pos:     val.Pos(),
		}
	}
	return s, nil
}

func optionalInt(v cue.Value, field string) (int, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return 0, nil
	}
	n, err := val.Int64()
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: field + " must be an integer",
			Pos:     val.Pos(),
		}
	}
	return int(n), nil
}
