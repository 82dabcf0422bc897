package config

import (
	"github.com/mitchellh/mapstructure"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers ("1", "1.5", 1) as seconds for time.Duration fields.
// Values with a unit are left to mapstructure.StringToTimeDurationHookFunc.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		var seconds float64
		switch value := data.(type) {
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		case int:
			seconds = float64(value)
		case int64:
			seconds = float64(value)
		case float64:
			seconds = value
		default:
			return data, nil
		}

		return time.Duration(seconds * float64(time.Second)), nil
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
