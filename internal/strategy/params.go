package strategy

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/atlas-desktop/signal-engine/pkg/errors"
)

var validate = validator.New()

// VWAPParams tunes the VWAP strategy.
type VWAPParams struct {
	VolumeThreshold float64 `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=1.5"`
	VWAPDistance    float64 `json:"vwap_distance" mapstructure:"vwap_distance" validate:"gt=0,lt=1" jsonschema:"description=Maximum fractional distance from VWAP for an entry,default=0.003"`
	SLMultiplier    float64 `json:"sl_multiplier" mapstructure:"sl_multiplier" validate:"gt=0" jsonschema:"description=Stop distance in ATRs,default=2"`
	TPMultiplier    float64 `json:"tp_multiplier" mapstructure:"tp_multiplier" validate:"gt=0" jsonschema:"description=Target distance in ATRs,default=1.5"`
}

// ORBParams tunes the opening range breakout strategy.
type ORBParams struct {
	VolumeThreshold  float64 `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=1.8"`
	ProfitMultiplier float64 `json:"profit_multiplier" mapstructure:"profit_multiplier" validate:"gt=0" jsonschema:"description=Target distance in opening ranges,default=2"`
}

// MomentumParams tunes the momentum/gap strategy.
type MomentumParams struct {
	GapThreshold    float64 `json:"gap_threshold" mapstructure:"gap_threshold" validate:"gt=0,lt=1" jsonschema:"description=Minimum fractional gap from the previous close,default=0.02"`
	RSILongEntry    float64 `json:"rsi_long_entry" mapstructure:"rsi_long_entry" validate:"gte=0,lte=100" jsonschema:"description=RSI must be above this for a long,default=60"`
	RSIShortEntry   float64 `json:"rsi_short_entry" mapstructure:"rsi_short_entry" validate:"gte=0,lte=100" jsonschema:"description=RSI must be below this for a short,default=40"`
	RSIExitLong     float64 `json:"rsi_exit_long" mapstructure:"rsi_exit_long" validate:"gte=0,lte=100" jsonschema:"description=Longs exit when RSI rises above this,default=75"`
	RSIExitShort    float64 `json:"rsi_exit_short" mapstructure:"rsi_exit_short" validate:"gte=0,lte=100" jsonschema:"description=Shorts exit when RSI falls below this,default=25"`
	VolumeThreshold float64 `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=1.5"`
	SLMultiplier    float64 `json:"sl_multiplier" mapstructure:"sl_multiplier" validate:"gt=0" jsonschema:"description=Stop distance in ATRs,default=3"`
}

// MeanReversionParams tunes the Bollinger mean reversion strategy.
type MeanReversionParams struct {
	RSIOversold      float64 `json:"rsi_oversold" mapstructure:"rsi_oversold" validate:"gte=0,lte=100" jsonschema:"description=RSI must be below this for a long,default=30"`
	RSIOverbought    float64 `json:"rsi_overbought" mapstructure:"rsi_overbought" validate:"gte=0,lte=100,gtfield=RSIOversold" jsonschema:"description=RSI must be above this for a short,default=70"`
	VolumeThreshold  float64 `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=1.3"`
	StopBandFraction float64 `json:"stop_band_fraction" mapstructure:"stop_band_fraction" validate:"gt=0" jsonschema:"description=Stop distance beyond the band as a fraction of the band width,default=0.5"`
	BandBreakExit    float64 `json:"band_break_exit" mapstructure:"band_break_exit" validate:"gte=0,lt=1" jsonschema:"description=Exit when price closes this fraction beyond the entry band,default=0.02"`
}

// FibonacciParams tunes the Fibonacci retracement strategy.
type FibonacciParams struct {
	EntryTolerance  float64   `json:"entry_tolerance" mapstructure:"entry_tolerance" validate:"gt=0,lt=1" jsonschema:"description=Maximum fractional distance from an entry level,default=0.02"`
	VolumeThreshold float64   `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=1.2"`
	EntryLevels     []float64 `json:"entry_levels" mapstructure:"entry_levels" validate:"min=1,dive,gt=0" jsonschema:"description=Retracement ratios checked in order"`
	StopLevel       float64   `json:"stop_level" mapstructure:"stop_level" validate:"gt=0" jsonschema:"description=Ratio of the stop level,default=0.786"`
	TargetLevel     float64   `json:"target_level" mapstructure:"target_level" validate:"gt=0" jsonschema:"description=Ratio of the target extension,default=1.618"`
}

// BreakoutParams tunes the support/resistance breakout strategy.
type BreakoutParams struct {
	BreakoutThreshold float64 `json:"breakout_threshold" mapstructure:"breakout_threshold" validate:"gt=0,lt=1" jsonschema:"description=Fraction beyond the level a close must reach,default=0.02"`
	VolumeThreshold   float64 `json:"volume_threshold" mapstructure:"volume_threshold" validate:"gt=0" jsonschema:"description=Volume must exceed this multiple of the average,default=2"`
	UseADX            bool    `json:"use_adx" mapstructure:"use_adx" jsonschema:"description=Require ADX above adx_threshold before entering,default=false"`
	ADXThreshold      float64 `json:"adx_threshold" mapstructure:"adx_threshold" validate:"gte=0" jsonschema:"description=ADX must exceed this when use_adx is set,default=25"`
	ProfitMultiplier  float64 `json:"profit_multiplier" mapstructure:"profit_multiplier" validate:"gt=0" jsonschema:"description=Target distance as a multiple of the breakout distance,default=2"`
}

// Params holds the tunables of every strategy. It is passed by value and
// never mutated during a run.
type Params struct {
	VWAP          VWAPParams          `json:"vwap" mapstructure:"vwap"`
	ORB           ORBParams           `json:"orb" mapstructure:"orb"`
	Momentum      MomentumParams      `json:"momentum" mapstructure:"momentum"`
	MeanReversion MeanReversionParams `json:"mean_reversion" mapstructure:"mean_reversion"`
	Fibonacci     FibonacciParams     `json:"fibonacci" mapstructure:"fibonacci"`
	Breakout      BreakoutParams      `json:"breakout" mapstructure:"breakout"`
}

// DefaultParams returns the standard strategy tunables.
func DefaultParams() Params {
	return Params{
		VWAP: VWAPParams{
			VolumeThreshold: 1.5,
			VWAPDistance:    0.003,
			SLMultiplier:    2.0,
			TPMultiplier:    1.5,
		},
		ORB: ORBParams{
			VolumeThreshold:  1.8,
			ProfitMultiplier: 2.0,
		},
		Momentum: MomentumParams{
			GapThreshold:    0.02,
			RSILongEntry:    60,
			RSIShortEntry:   40,
			RSIExitLong:     75,
			RSIExitShort:    25,
			VolumeThreshold: 1.5,
			SLMultiplier:    3.0,
		},
		MeanReversion: MeanReversionParams{
			RSIOversold:      30,
			RSIOverbought:    70,
			VolumeThreshold:  1.3,
			StopBandFraction: 0.5,
			BandBreakExit:    0.02,
		},
		Fibonacci: FibonacciParams{
			EntryTolerance:  0.02,
			VolumeThreshold: 1.2,
			EntryLevels:     []float64{0.382, 0.5, 0.618},
			StopLevel:       0.786,
			TargetLevel:     1.618,
		},
		Breakout: BreakoutParams{
			BreakoutThreshold: 0.02,
			VolumeThreshold:   2.0,
			ADXThreshold:      25,
			ProfitMultiplier:  2.0,
		},
	}
}

// Validate checks every parameter set.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParams, "invalid strategy parameters", err)
	}
	return nil
}

func (p *Params) section(k Kind) any {
	switch k {
	case KindVWAP:
		return &p.VWAP
	case KindORB:
		return &p.ORB
	case KindMomentum:
		return &p.Momentum
	case KindMeanReversion:
		return &p.MeanReversion
	case KindFibonacci:
		return &p.Fibonacci
	case KindBreakout:
		return &p.Breakout
	default:
		return nil
	}
}

// Keys returns the parameter names the strategy accepts.
func (p Params) Keys(k Kind) []string {
	m := p.Map(k)
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// WithOverrides returns a copy of p with the given values applied to the
// strategy's parameter set. Unknown names and invalid values are rejected.
func (p Params) WithOverrides(k Kind, overrides map[string]any) (Params, error) {
	out := p
	out.Fibonacci.EntryLevels = slices.Clone(p.Fibonacci.EntryLevels)
	if len(overrides) == 0 {
		return out, nil
	}
	target := out.section(k)
	if target == nil {
		return p, errors.Newf(errors.ErrCodeUnknownStrategy, "strategy '%s' has no parameters", k)
	}

	raw, err := json.Marshal(overrides)
	if err != nil {
		return p, errors.Wrapf(errors.ErrCodeInvalidParams, err, "failed to encode parameters for '%s'", k)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return p, errors.Wrapf(errors.ErrCodeInvalidParams, err, "invalid parameters for strategy '%s'", k)
	}
	if err := validate.Struct(target); err != nil {
		return p, errors.Wrapf(errors.ErrCodeInvalidParams, err, "invalid parameters for strategy '%s'", k)
	}
	return out, nil
}

// Map renders the strategy's parameter set as a name/value map.
func (p Params) Map(k Kind) map[string]any {
	section := p.section(k)
	if section == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(section)
	if err != nil {
		return map[string]any{}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// ParamsSchema returns the JSON schema of the strategy's parameter set.
func ParamsSchema(k Kind) *jsonschema.Schema {
	p := DefaultParams()
	section := p.section(k)
	if section == nil {
		return nil
	}
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	r.ExpandedStruct = true
	r.RequiredFromJSONSchemaTags = true
	s := r.Reflect(section)
	s.Title = string(k)
	s.Description = k.Description()
	return s
}
