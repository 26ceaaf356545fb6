package transform

import (
	"reflect"
	"strings"
	"testing"

	"github.com/robertkrimen/otto"

	"github.com/astrorafael/emadb/internal/ema"
)

func TestValueToExtra(t *testing.T) {
	vm := otto.New()
	for _, test := range []struct {
		JS    string
		Want  *Extra
		Error string
	}{
		{
			JS:   `null`,
			Want: &Extra{},
		},
		{
			JS:   `_ = {spread: 4.5, ok: true, label: "dry"}`,
			Want: &Extra{Fields: map[string]interface{}{"spread": 4.5, "ok": true, "label": "dry"}},
		},
		{
			JS: `_ = {spread: 1, skipped: null, tags: {"site": "roof", "height": 1.5}}`,
			Want: &Extra{
				Fields: map[string]interface{}{"spread": 1.0},
				Tags:   map[string]string{"site": "roof", "height": "1.5"},
			},
		},
		{
			JS:    `42`,
			Error: "expected an object",
		},
		{
			JS:    `[1, 2]`,
			Error: "expected an object",
		},
		{
			JS:    `_ = {nested: [1]}`,
			Error: "field nested",
		},
	} {
		t.Run(test.JS, func(t *testing.T) {
			v, err := vm.Run(test.JS)
			if err != nil {
				t.Fatal("parsing JS:", err)
			}
			extra, err := valueToExtra(v)
			if err != nil {
				if test.Error != "" && strings.Contains(err.Error(), test.Error) {
					return
				}
				t.Fatalf("unexpected error `%v` (does not contain `%s`)", err, test.Error)
			}
			if test.Error != "" {
				t.Fatalf("expected error containing `%s`", test.Error)
			}
			if !reflect.DeepEqual(extra, test.Want) {
				t.Errorf("extra from `%s` is not %v but %v", test.JS, test.Want, extra)
			}
		})
	}
}

func TestTransform(t *testing.T) {
	rec := ema.Record{Temperature: 12.5, DewPoint: 2.5, Magnitude: 20.1, Roof: ema.RelayClosed}

	for _, test := range []struct {
		Name  string
		JS    string
		Calls int
		Want  *Extra
		Error string
	}{
		{
			Name:  "function expression",
			JS:    `function(r) { return {spread: r.temperature - r.dew_point}; }`,
			Calls: 1,
			Want:  &Extra{Fields: map[string]interface{}{"spread": 10.0}},
		},
		{
			Name:  "relay tag",
			JS:    `function(r) { return {tags: {roof: r.roof}, dark: r.magnitude > 18}; }`,
			Calls: 1,
			Want: &Extra{
				Fields: map[string]interface{}{"dark": true},
				Tags:   map[string]string{"roof": "Closed"},
			},
		},
		{
			Name:  "persist data in js vm",
			JS:    `var n = 0; function fields(r) { n += 1; return {count: n}; }`,
			Calls: 3,
			Want:  &Extra{Fields: map[string]interface{}{"count": 3.0}},
		},
		{
			Name:  "not a function",
			JS:    `var x = 1;`,
			Error: "neither a function",
		},
		{
			Name:  "syntax error",
			JS:    `function(r) { return {`,
			Error: "running script",
		},
	} {
		t.Run(test.Name, func(t *testing.T) {
			transf, err := New(test.JS)
			if err != nil {
				if test.Error != "" && strings.Contains(err.Error(), test.Error) {
					return
				}
				t.Fatalf("unexpected error `%v` (does not contain `%s`)", err, test.Error)
			}
			if test.Error != "" {
				t.Fatalf("expected error containing `%s`", test.Error)
			}
			var extra *Extra
			for i := 0; i < test.Calls; i++ {
				if extra, err = transf.Apply(rec); err != nil {
					t.Fatal(err)
				}
			}
			if !reflect.DeepEqual(extra, test.Want) {
				t.Errorf("extra is not %v but %v", test.Want, extra)
			}
		})
	}
}
