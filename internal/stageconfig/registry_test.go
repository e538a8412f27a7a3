package stageconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/model"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.DefaultDunning()
	r, err := NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)
	return r
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name     string
		stages   []model.DunningStageDefinition
		critical []string
		wantErr  string
	}{
		{
			name:    "empty table",
			stages:  nil,
			wantErr: "stage table is empty",
		},
		{
			name: "duplicate names",
			stages: []model.DunningStageDefinition{
				{Name: "a", DelayDays: 0, Urgency: model.UrgencyLow},
				{Name: "a", DelayDays: 3, Urgency: model.UrgencyLow},
			},
			wantErr: "duplicate stage name",
		},
		{
			name: "delays not strictly increasing",
			stages: []model.DunningStageDefinition{
				{Name: "a", DelayDays: 3, Urgency: model.UrgencyLow},
				{Name: "b", DelayDays: 3, Urgency: model.UrgencyLow},
			},
			wantErr: "not greater than previous",
		},
		{
			name: "unknown urgency",
			stages: []model.DunningStageDefinition{
				{Name: "a", DelayDays: 0, Urgency: "extreme"},
			},
			wantErr: "unknown urgency",
		},
		{
			name: "critical references unknown stage",
			stages: []model.DunningStageDefinition{
				{Name: "a", DelayDays: 0, Urgency: model.UrgencyLow},
			},
			critical: []string{"missing"},
			wantErr:  "unknown stage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.stages, tt.critical)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistryLookups(t *testing.T) {
	r := defaultRegistry(t)

	assert.Equal(t, 6, r.Len())

	stage, err := r.GetStage("urgent_notice")
	require.NoError(t, err)
	assert.Equal(t, 14, stage.DelayDays)
	assert.Equal(t, model.UrgencyHigh, stage.Urgency)

	_, err = r.GetStage("nonexistent")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnknownStage))

	idx, err := r.StageIndex("second_reminder")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	assert.Equal(t, "final_notice", r.FinalStage().Name)
	assert.True(t, r.IsFinal("final_notice"))
	assert.False(t, r.IsFinal("final_warning"))
}

func TestRegistryOrderedStagesIsACopy(t *testing.T) {
	r := defaultRegistry(t)

	stages := r.OrderedStages()
	stages[0].Name = "mutated"

	stage, err := r.GetStage("initial_notice")
	require.NoError(t, err)
	assert.Equal(t, "initial_notice", stage.Name)
}

func TestSMSEligible(t *testing.T) {
	r := defaultRegistry(t)

	// low and medium urgency, not in the critical list
	assert.False(t, r.SMSEligible("initial_notice"))
	assert.False(t, r.SMSEligible("first_reminder"))
	assert.False(t, r.SMSEligible("second_reminder"))

	// high or critical urgency, also listed explicitly
	assert.True(t, r.SMSEligible("urgent_notice"))
	assert.True(t, r.SMSEligible("final_warning"))
	assert.True(t, r.SMSEligible("final_notice"))

	assert.False(t, r.SMSEligible("nonexistent"))
}

func TestSMSEligibleByUrgencyAlone(t *testing.T) {
	stages := []model.DunningStageDefinition{
		{Name: "a", DelayDays: 0, Urgency: model.UrgencyLow},
		{Name: "b", DelayDays: 3, Urgency: model.UrgencyHigh},
	}
	r, err := NewRegistry(stages, nil)
	require.NoError(t, err)

	assert.False(t, r.SMSEligible("a"))
	assert.True(t, r.SMSEligible("b"))
}

func TestGetTemplate(t *testing.T) {
	r := defaultRegistry(t)

	tmpl, err := r.GetTemplate(model.ChannelEmail, "initial_notice")
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.Subject)
	assert.NotEmpty(t, tmpl.Body)

	tmpl, err = r.GetTemplate(model.ChannelSMS, "final_warning")
	require.NoError(t, err)
	assert.Empty(t, tmpl.Subject)
	assert.NotEmpty(t, tmpl.Body)

	_, err = r.GetTemplate(model.Channel("carrier_pigeon"), "initial_notice")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnknownType))
}
