package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes human readable strings
// ("30s", "5m"). Bare numbers are interpreted as whole seconds so operators
// can write `interval: 30` in YAML or ALERTENGINE_ENGINE_INTERVAL=30.
type Duration time.Duration

// Std converts Duration to a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string, a number of seconds, or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case string:
		parsed, err := parseDuration(value)
		if err != nil {
			return err
		}
		*d = parsed
	case float64:
		*d = seconds(value)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration value, got %v", value.Kind)
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// parseDuration accepts Go duration syntax or a plain number of seconds.
func parseDuration(s string) (Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return seconds(secs), nil
	}
	return 0, fmt.Errorf("invalid duration %q: expected format like \"30s\", \"5m\" or a number of seconds", s)
}

func seconds(v float64) Duration {
	return Duration(time.Duration(v * float64(time.Second)))
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode strings and numbers into conf.Duration
// fields, composed with the default time.Duration and slice hooks.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(from, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}

			switch v := data.(type) {
			case string:
				return parseDuration(v)
			case int:
				return seconds(float64(v)), nil
			case int64:
				return seconds(float64(v)), nil
			case float64:
				return seconds(v), nil
			default:
				return data, nil
			}
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
