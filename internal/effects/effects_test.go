package effects

import (
	"errors"
	"testing"

	"worldvote/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEffects_BoundsProperty(t *testing.T) {
	for a := models.AttributeMin; a <= models.AttributeMax; a++ {
		for e := models.EffectMin; e <= models.EffectMax; e++ {
			current := models.WorldAttributes{Stability: a, Prosperity: -a, Knowledge: a, Harmony: -a}
			next, actual := ApplyEffects(current, models.WorldAttributeEffects{Stability: e, Prosperity: e, Knowledge: -e, Harmony: -e})
			for _, attr := range models.AllAttributes {
				v := next.Get(attr)
				require.GreaterOrEqual(t, v, models.AttributeMin)
				require.LessOrEqual(t, v, models.AttributeMax)
				require.Equal(t, v-current.Get(attr), actual.Get(attr), "a=%d e=%d attr=%s", a, e, attr)
			}
		}
	}
}

func TestApplyEffects_ClampSequence(t *testing.T) {
	attrs := models.WorldAttributes{Stability: 9}
	effect := models.WorldAttributeEffects{Stability: 3}

	wantActual := []int{1, 0, 0, 0}
	for i, want := range wantActual {
		var actual models.WorldAttributeEffects
		attrs, actual = ApplyEffects(attrs, effect)
		assert.Equal(t, 10, attrs.Stability, "step %d", i)
		assert.Equal(t, want, actual.Stability, "step %d", i)
	}
}

func TestApplyEffects_Negative(t *testing.T) {
	next, actual := ApplyEffects(models.WorldAttributes{Harmony: -9}, models.WorldAttributeEffects{Harmony: -3, Knowledge: 2})
	assert.Equal(t, -10, next.Harmony)
	assert.Equal(t, -1, actual.Harmony)
	assert.Equal(t, 2, next.Knowledge)
	assert.Equal(t, 2, actual.Knowledge)
}

func TestValidateEffectLimits(t *testing.T) {
	assert.NoError(t, ValidateEffectLimits(models.WorldAttributeEffects{Stability: 3, Prosperity: -3}))

	err := ValidateEffectLimits(models.WorldAttributeEffects{Knowledge: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))

	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "knowledge", vErr.Field)
	assert.Equal(t, 4, vErr.Value)

	assert.ErrorIs(t, ValidateEffectLimits(models.WorldAttributeEffects{Harmony: -4}), models.ErrValidation)
}

func TestValidateAttributes(t *testing.T) {
	assert.NoError(t, ValidateAttributes(models.WorldAttributes{Stability: 10, Harmony: -10}))
	assert.ErrorIs(t, ValidateAttributes(models.WorldAttributes{Prosperity: 11}), models.ErrValidation)
}

func TestBalanceScore(t *testing.T) {
	tests := []struct {
		name  string
		attrs models.WorldAttributes
		want  float64
	}{
		{"all zero", models.WorldAttributes{}, 1.00},
		{"all equal", models.WorldAttributes{Stability: 4, Prosperity: 4, Knowledge: 4, Harmony: 4}, 1.00},
		{"maximally skewed", models.WorldAttributes{Stability: 10, Prosperity: -10, Knowledge: 10, Harmony: -10}, 0.00},
		{"one outlier", models.WorldAttributes{Stability: 4}, 0.83},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BalanceScore(tt.attrs), 0.001)
		})
	}
}

func historyWithStability(deltas ...int) []models.WorldHistoryEntry {
	out := make([]models.WorldHistoryEntry, 0, len(deltas))
	for i, d := range deltas {
		out = append(out, models.WorldHistoryEntry{Version: int64(i + 1), Changes: models.WorldAttributeEffects{Stability: d}})
	}
	return out
}

func TestAttributeTrend(t *testing.T) {
	t.Run("rising", func(t *testing.T) {
		tr := AttributeTrend(models.AttributeStability, historyWithStability(-3, 1, 2), 2)
		assert.Equal(t, models.TrendRising, tr.Direction)
		assert.Equal(t, 3, tr.Sum)
		assert.InDelta(t, 0.5, tr.Strength, 0.001)
	})

	t.Run("falling saturates strength", func(t *testing.T) {
		tr := AttributeTrend(models.AttributeStability, historyWithStability(-3, -3), 2)
		assert.Equal(t, models.TrendFalling, tr.Direction)
		assert.InDelta(t, 1.0, tr.Strength, 0.001)
	})

	t.Run("stable", func(t *testing.T) {
		tr := AttributeTrend(models.AttributeStability, historyWithStability(2, -2), 5)
		assert.Equal(t, models.TrendStable, tr.Direction)
		assert.Equal(t, 0.0, tr.Strength)
	})

	t.Run("short history measured against full window", func(t *testing.T) {
		tr := AttributeTrend(models.AttributeStability, historyWithStability(3, 3), 5)
		assert.Equal(t, models.TrendRising, tr.Direction)
		assert.Equal(t, 6, tr.Sum)
		assert.InDelta(t, 0.4, tr.Strength, 0.001)
	})

	t.Run("empty history", func(t *testing.T) {
		tr := AttributeTrend(models.AttributeHarmony, nil, 5)
		assert.Equal(t, models.TrendStable, tr.Direction)
	})
}

func TestCriticalState(t *testing.T) {
	alerts := CriticalState(models.WorldAttributes{Stability: -7, Prosperity: -4, Knowledge: -3, Harmony: -10})
	require.Len(t, alerts, 3)
	assert.Equal(t, models.AttributeStability, alerts[0].Attribute)
	assert.Equal(t, models.SeverityExtreme, alerts[0].Severity)
	assert.Equal(t, models.SeverityHigh, alerts[1].Severity)
	assert.Equal(t, models.AttributeHarmony, alerts[2].Attribute)
	assert.NotEmpty(t, alerts[2].Hint)

	assert.Empty(t, CriticalState(models.WorldAttributes{}))
}

func TestTotalImpact(t *testing.T) {
	assert.Equal(t, 6, TotalImpact(models.WorldAttributeEffects{Stability: 1, Prosperity: -2, Harmony: 3}))
}
