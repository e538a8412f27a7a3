// Package stageconfig holds the immutable dunning stage table. The registry
// is built once at startup from configuration and is pure lookup afterwards.
package stageconfig

import (
	"fmt"

	"github.com/recoverly/dunning-engine/internal/model"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

// Template is the renderable skeleton for one (channel, stage) pair.
type Template struct {
	Channel model.Channel
	Subject string
	Body    string
}

type Registry struct {
	stages   []model.DunningStageDefinition
	index    map[string]int
	critical map[string]bool
}

// NewRegistry validates and freezes the stage table: names unique, delays
// strictly increasing. criticalStages lists stages that are SMS-eligible in
// addition to those with high or critical urgency.
func NewRegistry(stages []model.DunningStageDefinition, criticalStages []string) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage table is empty")
	}

	index := make(map[string]int, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage name %q", s.Name)
		}
		if i > 0 && s.DelayDays <= stages[i-1].DelayDays {
			return nil, fmt.Errorf("stage %q: delay_days %d not greater than previous stage's %d",
				s.Name, s.DelayDays, stages[i-1].DelayDays)
		}
		switch s.Urgency {
		case model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh, model.UrgencyCritical:
		default:
			return nil, fmt.Errorf("stage %q: unknown urgency %q", s.Name, s.Urgency)
		}
		index[s.Name] = i
	}

	critical := make(map[string]bool, len(criticalStages))
	for _, name := range criticalStages {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("critical_stages references unknown stage %q", name)
		}
		critical[name] = true
	}

	frozen := make([]model.DunningStageDefinition, len(stages))
	copy(frozen, stages)

	return &Registry{stages: frozen, index: index, critical: critical}, nil
}

func (r *Registry) GetStage(name string) (model.DunningStageDefinition, error) {
	i, ok := r.index[name]
	if !ok {
		return model.DunningStageDefinition{}, apperrors.UnknownStage(name)
	}
	return r.stages[i], nil
}

// OrderedStages returns the stage table in ascending delay order. The
// returned slice is a copy.
func (r *Registry) OrderedStages() []model.DunningStageDefinition {
	out := make([]model.DunningStageDefinition, len(r.stages))
	copy(out, r.stages)
	return out
}

// StageIndex returns the position of a stage in the ordered table.
func (r *Registry) StageIndex(name string) (int, error) {
	i, ok := r.index[name]
	if !ok {
		return 0, apperrors.UnknownStage(name)
	}
	return i, nil
}

func (r *Registry) Len() int {
	return len(r.stages)
}

// FinalStage is the last stage of the sequence; reaching it closes the
// sequence by manual intervention or suspension.
func (r *Registry) FinalStage() model.DunningStageDefinition {
	return r.stages[len(r.stages)-1]
}

func (r *Registry) IsFinal(name string) bool {
	return name == r.FinalStage().Name
}

// SMSEligible reports whether a stage warrants SMS delivery: urgency high
// or critical, or an explicit critical_stages entry.
func (r *Registry) SMSEligible(name string) bool {
	i, ok := r.index[name]
	if !ok {
		return false
	}
	if r.critical[name] {
		return true
	}
	u := r.stages[i].Urgency
	return u == model.UrgencyHigh || u == model.UrgencyCritical
}

// GetTemplate returns the template skeleton for a channel and stage.
func (r *Registry) GetTemplate(channel model.Channel, stageName string) (Template, error) {
	stage, err := r.GetStage(stageName)
	if err != nil {
		return Template{}, err
	}
	switch channel {
	case model.ChannelEmail:
		return Template{Channel: channel, Subject: stage.Subject, Body: stage.Template}, nil
	case model.ChannelSMS, model.ChannelInApp, model.ChannelPush:
		return Template{Channel: channel, Body: stage.Template}, nil
	default:
		return Template{}, apperrors.UnknownType("channel", string(channel))
	}
}
