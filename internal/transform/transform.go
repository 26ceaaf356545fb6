// Package transform runs user supplied JavaScript over decoded records to
// derive extra InfluxDB fields and tags.
//
// A script is either a function expression
//
//	function(r) { return {spread: r.temperature - r.dew_point}; }
//
// or a program defining a global fields(r) function. The program runs once,
// so top level variables keep their values between records. The function
// returns an object; a "tags" member becomes point tags, every other
// member becomes a field. null and undefined values are skipped.
package transform

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robertkrimen/otto"

	"github.com/astrorafael/emadb/internal/ema"
)

type Transformer struct {
	vm *otto.Otto
	fn otto.Value
}

// Extra is what a script adds to a point.
type Extra struct {
	Fields map[string]interface{}
	Tags   map[string]string
}

func New(js string) (*Transformer, error) {
	vm := otto.New()
	var fn otto.Value
	if script, err := vm.Compile("", "("+js+")"); err == nil {
		if fn, err = vm.Run(script); err != nil {
			return nil, errors.Wrap(err, "running script")
		}
	} else {
		if _, err := vm.Run(js); err != nil {
			return nil, errors.Wrap(err, "running script")
		}
		if fn, err = vm.Get("fields"); err != nil {
			return nil, err
		}
	}
	if !fn.IsFunction() {
		return nil, errors.New("script is neither a function nor defines fields(record)")
	}
	return &Transformer{vm: vm, fn: fn}, nil
}

// Apply calls the script with r.
func (t *Transformer) Apply(r ema.Record) (*Extra, error) {
	obj, err := t.vm.ToValue(Fields(r))
	if err != nil {
		return nil, err
	}
	v, err := t.fn.Call(otto.UndefinedValue(), obj)
	if err != nil {
		return nil, errors.Wrap(err, "calling script")
	}
	return valueToExtra(v)
}

// Fields returns the record measurements keyed by field name.
func Fields(r ema.Record) map[string]interface{} {
	return map[string]interface{}{
		"type":           r.Type.String(),
		"roof":           r.Roof.String(),
		"aux":            r.Aux.String(),
		"voltage":        r.Voltage,
		"wet":            r.Wet,
		"cloudy":         r.Cloudy,
		"cal_pressure":   r.CalPressure,
		"abs_pressure":   r.AbsPressure,
		"rain":           r.Rain,
		"rain_accum":     r.RainAccum,
		"irradiation":    r.Irradiation,
		"frequency":      r.Frequency,
		"magnitude":      r.Magnitude,
		"temperature":    r.Temperature,
		"humidity":       r.Humidity,
		"dew_point":      r.DewPoint,
		"wind_speed":     r.WindSpeed,
		"wind_speed10":   r.WindSpeed10,
		"wind_direction": r.WindDirection,
		"lag":            r.Lag,
		"timestamp":      r.Timestamp.Format(time.RFC3339),
	}
}

func valueToExtra(v otto.Value) (*Extra, error) {
	if v.IsUndefined() || v.IsNull() {
		return &Extra{}, nil
	}
	if !v.IsObject() {
		return nil, errors.Errorf("script returned %v, expected an object", v)
	}
	if v.Class() != "Object" {
		return nil, errors.Errorf("script returned %s, expected an object", v.Class())
	}
	o := v.Object()
	extra := &Extra{Fields: make(map[string]interface{})}
	for _, k := range o.Keys() {
		vv, err := o.Get(k)
		if err != nil {
			return nil, err
		}
		if k == "tags" {
			if extra.Tags, err = valueToStringMap(vv); err != nil {
				return nil, errors.Wrap(err, "tags")
			}
			continue
		}
		if vv.IsUndefined() || vv.IsNull() {
			continue
		}
		if extra.Fields[k], err = valueToValue(vv); err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
	}
	return extra, nil
}

func valueToStringMap(v otto.Value) (map[string]string, error) {
	tags := make(map[string]string)
	if !v.IsObject() {
		return nil, errors.New("not an object")
	}
	obj := v.Object()
	for _, k := range obj.Keys() {
		vv, err := obj.Get(k)
		if err != nil {
			return nil, err
		}
		tags[k], err = vv.ToString()
		if err != nil {
			return nil, err
		}
	}
	return tags, nil
}

func valueToValue(v otto.Value) (interface{}, error) {
	switch {
	case v.IsUndefined():
		return nil, errors.New("no value")
	case v.IsNumber():
		return v.ToFloat()
	case v.IsBoolean():
		return v.ToBoolean()
	case v.IsString():
		return v.ToString()
	}
	return nil, errors.Errorf("unsupported value of class %s", v.Class())
}
