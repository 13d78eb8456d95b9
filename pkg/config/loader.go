// Package config loads accessguard settings from struct-tag defaults,
// an optional YAML or JSON file, and environment variables, in that
// order of increasing priority.
//
// Three struct tags drive the loader:
//
//   - `env:"NAME"` binds a field to an environment variable. On a nested
//     struct the tag becomes a prefix for the children.
//   - `envDefault:"value"` is applied when the field is still zero.
//   - `required:"true"` fails loading if the field is zero at the end.
//
// File loading goes through the yaml/json tags of the target struct.
//
//	type Settings struct {
//	    Authority string        `env:"AUTHORITY" yaml:"authority" required:"true"`
//	    JWKSTTL   time.Duration `env:"JWKS_TTL" envDefault:"24h" yaml:"jwks_ttl"`
//	}
//
//	s := config.MustLoad[Settings](config.New().WithEnvPrefix("OIDC"))
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LookupFunc resolves an environment variable. It has the signature of
// os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Loader resolves configuration into a struct. A Loader is cheap to build
// and not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookup    LookupFunc
}

// New returns a Loader reading from the process environment with no
// prefix and no file.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix prepends PREFIX_ to every env tag. The prefix is
// upper-cased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a .yaml, .yml or .json file to read before the
// environment. A missing file is not an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment source, mainly for tests.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, then runs
// required-tag validation and the optional [Validator] hook.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := walk(rv, "", func(field reflect.Value, sf reflect.StructField, _ string) error {
		def, ok := sf.Tag.Lookup("envDefault")
		if !ok || !field.IsZero() {
			return nil
		}
		if err := setField(field, def); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: bad default for field %q", sf.Name)
		}
		return nil
	}); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := walk(rv, l.envPrefix, func(field reflect.Value, sf reflect.StructField, prefix string) error {
		name := sf.Tag.Get("env")
		if name == "" {
			return nil
		}
		key := joinKey(prefix, name)
		val, ok := l.lookup(key)
		if !ok {
			return nil
		}
		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: cannot set %q from %s", sf.Name, key)
		}
		return nil
	}); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for process startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain \"..\"")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: cannot read %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: cannot parse %q", l.filePath)
	}
	return nil
}

// leafFunc is called for every settable non-struct field. prefix is the
// accumulated env prefix of the enclosing structs.
type leafFunc func(field reflect.Value, sf reflect.StructField, prefix string) error

func walk(rv reflect.Value, prefix string, fn leafFunc) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(field) {
			nested := prefix
			if tag := sf.Tag.Get("env"); tag != "" {
				nested = joinKey(prefix, tag)
			}
			if err := walk(field, nested, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, sf, prefix); err != nil {
			return err
		}
	}
	return nil
}

func isNested(v reflect.Value) bool {
	return v.Kind() == reflect.Struct && v.Type() != durationType && v.Type() != reflect.TypeOf(time.Time{})
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// setField parses value into field. Supported kinds: string and named
// strings, bool, signed and unsigned integers, floats, time.Duration and
// comma-separated []string.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		var parts []string
		for p := range strings.SplitSeq(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
