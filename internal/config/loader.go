package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "config"

// LoadConfig loads configuration in layers: defaults, embedded YAML (with
// ${VAR} placeholders expanded), then environment variable overrides.
// It is expected to be called once during application startup.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embedded)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to expand environment variables in embedded config", err, false, false)
	}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	if len(cfg.MLFS.Sensors) == 0 {
		return nil, exception.NewPipelineErrorf(moduleName, "no sensors configured")
	}
	return cfg, nil
}

// loadStructFromEnv overrides scalar struct fields from environment variables.
// The variable name is the upper-cased chain of yaml tags joined with '_',
// e.g. MLFS_SYSTEM_LOGGING_LEVEL overrides Config.MLFS.System.Logging.Level.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		// Map and slice sections (datastores, storages, sensors) are covered
		// by placeholder expansion instead.
		if field.Kind() == reflect.Map || field.Kind() == reflect.Slice {
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField assigns a string environment value to a scalar struct field.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}
	return nil
}
