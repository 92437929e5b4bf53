package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // dotted location (e.g., "targets.a.base_url")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a config file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Config, []*ValidationError) {
	var allErrors []*ValidationError

	c, err := LoadFile(path)
	if err != nil {
		allErrors = append(allErrors, &ValidationError{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		})
		return nil, allErrors
	}

	allErrors = append(allErrors, validateSemantic(c)...)
	allErrors = append(allErrors, ValidateDomain(c)...)

	if len(allErrors) > 0 {
		return c, allErrors
	}
	return c, nil
}

// validateSemantic validates the config against the JSON Schema.
func validateSemantic(c *Config) []*ValidationError {
	data, err := json.Marshal(c)
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("generate schema: %v", err),
			Severity: "error",
		}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("unmarshal schema: %v", err),
			Severity: "error",
		}}
	}

	comp := sjsonschema.NewCompiler()
	if err := comp.AddResource("rift-config-v0.json", schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("add schema resource: %v", err),
			Severity: "error",
		}}
	}

	sch, err := comp.Compile("rift-config-v0.json")
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("compile schema: %v", err),
			Severity: "error",
		}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("unmarshal document: %v", err),
			Severity: "error",
		}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				instancePath := strings.Join(cause.InstanceLocation, "/")
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     instancePath,
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     "",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(c *Config) []*ValidationError {
	var errs []*ValidationError

	if c.APIVersion != APIVersion {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", c.APIVersion, APIVersion),
			Severity: "error",
		})
	}

	errs = append(errs, validateTarget("targets.a", c.Targets.A)...)
	errs = append(errs, validateTarget("targets.b", c.Targets.B)...)

	errs = append(errs, validateBudget("budgets.step_timeout", c.Budgets.Step)...)
	errs = append(errs, validateBudget("budgets.eval_timeout", c.Budgets.Eval)...)
	errs = append(errs, validateBudget("budgets.worker_eval_timeout", c.Budgets.WorkerEval)...)

	// The worker must answer before the caller gives up, or every slow
	// expression looks like a hung worker.
	if c.Budgets.WorkerEvalTimeout() >= c.Budgets.EvalTimeout() {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "budgets.worker_eval_timeout",
			Message:  fmt.Sprintf("worker_eval_timeout %s must be below eval_timeout %s", c.Budgets.WorkerEvalTimeout(), c.Budgets.EvalTimeout()),
			Severity: "warning",
		})
	}

	if c.Generation.CasesPerOperation < 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "generation.cases_per_operation",
			Message:  fmt.Sprintf("cases_per_operation must be >= 0, got %d", c.Generation.CasesPerOperation),
			Severity: "error",
		})
	}

	if c.Exploration.MaxDepth < 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "exploration.max_depth",
			Message:  fmt.Sprintf("max_depth must be >= 0, got %d", c.Exploration.MaxDepth),
			Severity: "error",
		})
	}
	if c.Exploration.PerSequence < 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "exploration.per_sequence",
			Message:  fmt.Sprintf("per_sequence must be >= 0, got %d", c.Exploration.PerSequence),
			Severity: "error",
		})
	}
	if sot := c.Exploration.SourceOfTruth; sot != "" && sot != "a" && sot != "b" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "exploration.source_of_truth",
			Message:  fmt.Sprintf("source_of_truth must be \"a\" or \"b\", got %q", sot),
			Severity: "error",
		})
	}

	for _, p := range c.Rules.Problems() {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "rules",
			Message:  p,
			Severity: "error",
		})
	}

	return errs
}

// validateTarget checks a target has a usable HTTP base URL.
func validateTarget(path string, t Target) []*ValidationError {
	if t.BaseURL == "" {
		return []*ValidationError{{
			Phase:    "domain",
			Path:     path + ".base_url",
			Message:  "target requires a base_url",
			Severity: "error",
		}}
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return []*ValidationError{{
			Phase:    "domain",
			Path:     path + ".base_url",
			Message:  fmt.Sprintf("invalid base_url %q: %v", t.BaseURL, err),
			Severity: "error",
		}}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []*ValidationError{{
			Phase:    "domain",
			Path:     path + ".base_url",
			Message:  fmt.Sprintf("base_url %q must be an absolute http or https URL", t.BaseURL),
			Severity: "error",
		}}
	}
	return nil
}

// validateBudget checks a set timeout string parses to a positive duration.
func validateBudget(path, s string) []*ValidationError {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return []*ValidationError{{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf("invalid duration %q: %v", s, err),
			Severity: "error",
		}}
	}
	if d <= 0 {
		return []*ValidationError{{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf("duration must be positive, got %q", s),
			Severity: "error",
		}}
	}
	return nil
}
