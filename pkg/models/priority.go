package models

import "fmt"

// TaskPriority orders tasks in the scheduler's waiting set.
// Higher values dispatch first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[TaskPriority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

// String implements fmt.Stringer for logging
func (p TaskPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// IsValid returns true if the priority is one of the closed set
func (p TaskPriority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority maps a config string to a TaskPriority.
// Empty input falls back to PriorityNormal.
func ParsePriority(s string) (TaskPriority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown task priority %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler so priorities can be written
// by name ("high") in configuration files.
func (p *TaskPriority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (p TaskPriority) MarshalYAML() (interface{}, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid priority %d", int(p))
	}
	return p.String(), nil
}
