package conf

import (
	"errors"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

var (
	errInvalidCheckout = errors.New("conf: Checkout requires a non-nil pointer to a struct")
)

// Checkout populates the supplied struct pointer from conf. Fields are matched
// by the "conf" struct tag; when the variable is unset, the "conf_default" tag
// value is used instead. Numeric fields are converted from their string form.
func Checkout(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errInvalidCheckout
	}

	rt := rv.Elem().Type()
	if rt.Kind() != reflect.Struct {
		return errInvalidCheckout
	}

	values := make(map[string]interface{}, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key, ok := field.Tag.Lookup("conf")
		if !ok {
			continue
		}

		value := GetEnv(key)
		if value == "" {
			value = field.Tag.Get("conf_default")
		}
		if value == "" {
			continue
		}
		values[field.Name] = value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(values)
}
