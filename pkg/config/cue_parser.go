package config

import (
	goerrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/hostprep/pkg/version"
)

// ConfigError carries every problem found while loading a configuration.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// CUEParser loads hostprep configuration files.
type CUEParser struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:       cuecontext.New(),
		validator: newValidator(),
	}
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path, or a missing file at DefaultPath,
// yields the defaults.
func (cp *CUEParser) Load(path string) (*Config, error) {
	content := ""
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			content = string(data)
		case goerrors.Is(err, fs.ErrNotExist) && path == DefaultPath:
			path = ""
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := cp.parse(content, path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cp.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseInline parses inline CUE content without environment overrides.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	cfg, err := cp.parse(content, "")
	if err != nil {
		return nil, err
	}
	if err := cp.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration with every default applied.
func (cp *CUEParser) Defaults() (*Config, error) {
	return cp.parse("", "")
}

func (cp *CUEParser) parse(content, filename string) (*Config, error) {
	schema, err := cp.compileSchema()
	if err != nil {
		return nil, err
	}

	name := filename
	if name == "" {
		name = "inline"
	}
	val := cp.ctx.CompileString(content, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, &ConfigError{Errors: cp.convertCUEErrors(err)}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ConfigError{Errors: cp.convertCUEErrors(err)}
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, &ConfigError{Errors: cp.convertCUEErrors(err)}
	}
	cfg.Source = filename
	return &cfg, nil
}

// Validate checks struct-level constraints that CUE cannot express, such as
// version syntax and user rule references.
func (cp *CUEParser) Validate(cfg *Config) error {
	var errs []ValidationError

	if err := cp.validator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if goerrors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					File:    cfg.Source,
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{File: cfg.Source, Message: err.Error()})
		}
	}

	seen := make(map[string]bool)
	for i, r := range cfg.Rules {
		if seen[r.ID] {
			errs = append(errs, ValidationError{
				File:    cfg.Source,
				Path:    fmt.Sprintf("rules[%d].id", i),
				Message: fmt.Sprintf("duplicate rule id %q", r.ID),
			})
		}
		seen[r.ID] = true
	}

	if len(errs) > 0 {
		return &ConfigError{Errors: errs}
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(errors.Details(e, nil)),
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("version", func(fl validator.FieldLevel) bool {
		_, err := version.Parse(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}
