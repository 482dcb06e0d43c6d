// Package config provides koanf-based configuration loading for otelkit.
package config

import (
	"encoding"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// keyDelim separates nested koanf keys. Not ".", because resource
	// attribute keys such as deployment.environment contain dots.
	keyDelim = "/"
)

// Options controls where Load reads configuration from.
type Options struct {
	// Path is an optional YAML file. A missing file is not an error.
	Path string

	// EnvPrefix selects environment variables, e.g. "OTELKIT_". Empty
	// disables environment overrides.
	EnvPrefix string

	// Sections lists the nested keys of the target, dot-separated for
	// deeper levels ("logging.output"). An environment variable whose name
	// (after the prefix) starts with a section maps into that section;
	// everything else maps to a top-level key.
	Sections []string
}

// Load decodes configuration into target, which should already hold its
// defaults. Keys absent from every source keep their default value.
//
// Precedence (highest to lowest):
//  1. Environment variables (OTELKIT_SERVICE_NAME, OTELKIT_METRICS_EXPORT_INTERVAL, ...)
//  2. YAML file at opts.Path
//  3. Defaults already present in target
//
// Environment mapping with Sections = ["metrics", "sampling"]:
//
//	OTELKIT_SERVICE_NAME            -> service_name
//	OTELKIT_METRICS_EXPORT_INTERVAL -> metrics/export_interval
//	OTELKIT_SAMPLING_RATE           -> sampling/rate
func Load(opts Options, target any) error {
	k := koanf.New(keyDelim)

	if opts.Path != "" {
		content, err := readConfigFile(opts.Path)
		if err != nil {
			return err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return fmt.Errorf("failed to load config file %s: %w", opts.Path, err)
			}
		}
	}

	if opts.EnvPrefix != "" {
		if err := k.Load(env.Provider(opts.EnvPrefix, keyDelim, envKeyMapper(opts.EnvPrefix, opts.Sections)), nil); err != nil {
			return fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	err := k.UnmarshalWithConf("", target, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				scalarTextHook,
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           target,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// scalarTextHook renders YAML booleans and numbers as text when the target
// decodes from text, so `baggage: true` and `batch_timeout: 200` reach
// UnmarshalText like their string forms do.
func scalarTextHook(from, to reflect.Type, data any) (any, error) {
	switch from.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
	default:
		return data, nil
	}
	if !reflect.PointerTo(to).Implements(textUnmarshalerType) {
		return data, nil
	}
	return fmt.Sprint(data), nil
}

// envKeyMapper builds the koanf key transformer for the given prefix and
// nested sections. Dotted sections ("logging.output") match their underscored
// form, longest first, so LOGGING_OUTPUT_STDOUT becomes logging/output/stdout.
func envKeyMapper(prefix string, sections []string) func(string) string {
	ordered := append([]string(nil), sections...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	return func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, prefix))
		for _, section := range ordered {
			envForm := strings.ReplaceAll(section, ".", "_") + "_"
			if strings.HasPrefix(key, envForm) {
				return strings.ReplaceAll(section, ".", keyDelim) + keyDelim + strings.TrimPrefix(key, envForm)
			}
		}
		return key
	}
}

// readConfigFile returns the file content, or nil when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized and world-writable files.
// Config may carry exporter credentials in headers.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
