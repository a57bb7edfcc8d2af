package signal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNew_ClampsStrengthAndConfidence(t *testing.T) {
	s := New("momentum-v1", "BTCUSDT", TypeBuy, decimal.NewFromFloat(1.5), decimal.NewFromFloat(-0.2), nil)
	assert.True(t, s.Strength.Equal(decimal.NewFromInt(1)))
	assert.True(t, s.Confidence.Equal(decimal.Zero))
}

func TestIsActionable(t *testing.T) {
	assert.True(t, TypeBuy.IsActionable())
	assert.True(t, TypeCloseLong.IsActionable())
	assert.False(t, TypeHold.IsActionable())
}

func TestMeetsThresholds(t *testing.T) {
	s := New("momentum-v1", "BTCUSDT", TypeBuy, decimal.NewFromFloat(0.6), decimal.NewFromFloat(0.7), nil)

	assert.True(t, s.MeetsThresholds(decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.5)))
	assert.False(t, s.MeetsThresholds(decimal.NewFromFloat(0.9), decimal.NewFromFloat(0.5)))
	assert.False(t, s.MeetsThresholds(decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.9)))
}

func TestPrice_ReturnsParameterOrZero(t *testing.T) {
	withPrice := New("momentum-v1", "BTCUSDT", TypeBuy, decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.5),
		map[string]decimal.Decimal{"price": decimal.NewFromInt(65000)})
	assert.True(t, withPrice.Price().Equal(decimal.NewFromInt(65000)))

	withoutPrice := New("momentum-v1", "BTCUSDT", TypeBuy, decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.5), nil)
	assert.True(t, withoutPrice.Price().IsZero())
}
