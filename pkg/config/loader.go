// Package config loads service configuration from struct tag defaults, an
// optional YAML or JSON file, and environment variables, in that order of
// increasing precedence:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file
//	Environment variables  (highest priority)
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable. On a
//     nested struct the tag becomes a prefix for the child fields.
//   - `envDefault:"value"` sets a default when the field is zero-valued.
//   - `required:"true"` fails validation if the field is still zero.
//
// Fields need `yaml` or `json` tags for file-based loading.
//
// # Usage
//
//	type ResourceConfig struct {
//	    Addr      string        `env:"ADDR" envDefault:":8081" yaml:"addr"`
//	    IssuerURI string        `env:"ISSUER_URI" yaml:"issuer_uri" required:"true"`
//	    KeyTTL    time.Duration `env:"KEY_TTL" envDefault:"5m" yaml:"key_ttl"`
//	    Routes    map[string]string `env:"ROUTES" yaml:"routes"`
//	}
//
//	cfg := config.MustLoad[ResourceConfig](
//	    config.New().WithEnvPrefix("RESOURCE").WithFile("resource.yaml"),
//	)
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

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// time.Duration has Kind() == Int64 and must be parsed with
// time.ParseDuration, so it is matched by type before kind.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader executes layered configuration loading. Create one with [New].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookupEnv func(string) (string, bool)
}

// New creates a [Loader] that reads environment variables only.
func New() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// WithEnvPrefix prepends prefix (uppercased, joined with "_") to every env
// key. WithEnvPrefix("CLIENT") makes `env:"TOKEN_URI"` read CLIENT_TOKEN_URI.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a YAML (.yaml, .yml) or JSON (.json) file to load. A
// missing file is not an error. Paths containing ".." are rejected.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces os.LookupEnv as the environment source.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, then
// validates required fields and calls [Validator] if cfg implements it.
//
// Loading failures carry [sserr.CodeInternalConfiguration]; validation
// failures carry [sserr.CodeValidationRequired] or [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := walk(rv, "", "", applyDefault); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	lookup := l.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := walk(rv, l.envPrefix, "", func(f field) error {
		return applyEnv(f, lookup)
	}); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T and panics on failure. Use it from main, where a bad
// configuration should stop the process before it serves anything.
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
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	ext := strings.ToLower(filepath.Ext(l.filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// field is one settable leaf visited by walk.
type field struct {
	value  reflect.Value
	sf     reflect.StructField
	envKey string // empty when the field has no env tag
	path   string // dotted Go field path, e.g. "Keys.TTL"
}

// walk visits every settable leaf field of rv, recursing into nested
// structs. A nested struct's env tag extends the prefix for its children.
func walk(rv reflect.Value, prefix, path string, fn func(field) error) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		fv := rv.Field(i)
		sf := rt.Field(i)

		if !fv.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		envTag := sf.Tag.Get("env")

		if fv.Kind() == reflect.Struct && sf.Type != durationType {
			if err := walk(fv, joinKey(prefix, envTag), fieldPath, fn); err != nil {
				return err
			}
			continue
		}

		f := field{value: fv, sf: sf, path: fieldPath}
		if envTag != "" {
			f.envKey = joinKey(prefix, envTag)
		}
		if err := fn(f); err != nil {
			return err
		}
	}

	return nil
}

func joinKey(prefix, key string) string {
	switch {
	case key == "":
		return prefix
	case prefix == "":
		return key
	default:
		return prefix + "_" + key
	}
}

func applyDefault(f field) error {
	tag := f.sf.Tag.Get("envDefault")
	if tag == "" || !f.value.IsZero() {
		return nil
	}
	if err := setField(f.value, tag); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to apply default for field %q", f.path)
	}
	return nil
}

func applyEnv(f field, lookup func(string) (string, bool)) error {
	if f.envKey == "" {
		return nil
	}
	val, ok := lookup(f.envKey)
	if !ok {
		return nil
	}
	if err := setField(f.value, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to set field %q from env var %q", f.path, f.envKey)
	}
	return nil
}

// setField parses value into fv. Supported kinds:
//
//   - string and named string types (e.g. token.Secret)
//   - bool, signed and unsigned integers, float32/float64
//   - time.Duration (time.ParseDuration)
//   - []string: comma-separated, whitespace-trimmed
//   - map[string]string: comma-separated key=value pairs, split on the
//     first '=' so values may contain '=' themselves
func setField(fv reflect.Value, value string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		fv.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		fv.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		fv.SetUint(n)

	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(value, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		fv.SetFloat(n)

	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", fv.Type().Elem().Kind())
		}
		parts := splitList(value)
		// MakeSlice with the field's own type keeps named slice types
		// settable.
		slice := reflect.MakeSlice(fv.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		fv.Set(slice)

	case reflect.Map:
		if fv.Type().Key().Kind() != reflect.String || fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type %s", fv.Type())
		}
		m := reflect.MakeMap(fv.Type())
		for _, pair := range splitList(value) {
			k, v, ok := strings.Cut(pair, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return fmt.Errorf("cannot parse map entry %q (want key=value)", pair)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(fv.Type().Key()),
				reflect.ValueOf(strings.TrimSpace(v)).Convert(fv.Type().Elem()))
		}
		fv.Set(m)

	default:
		return fmt.Errorf("unsupported field type %s", fv.Kind())
	}

	return nil
}

// splitList splits a comma-separated value, trimming whitespace and
// dropping empty items.
func splitList(value string) []string {
	raw := strings.Split(value, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
