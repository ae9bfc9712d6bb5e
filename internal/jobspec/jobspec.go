// Package jobspec parses and validates job definitions submitted from the
// console before they are sent to the backend.
package jobspec

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/platform"
	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

//go:embed schema.json
var defaultSchema []byte

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Options tune validation. KnownConnectors, when set, restricts the connector
// field to those names.
type Options struct {
	Schema          []byte
	KnownConnectors []string
}

type Validator struct {
	schemaLoader gojsonschema.JSONLoader
	connectors   map[string]struct{}
}

type Result struct {
	Valid       bool                    `json:"valid"`
	Errors      []string                `json:"errors,omitempty"`
	Checks      []CheckResult           `json:"checks,omitempty"`
	Definition  *platform.JobDefinition `json:"definition,omitempty"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func New(opts Options) *Validator {
	schema := opts.Schema
	if len(schema) == 0 {
		schema = defaultSchema
	}
	v := &Validator{schemaLoader: gojsonschema.NewBytesLoader(schema)}
	if len(opts.KnownConnectors) > 0 {
		v.connectors = map[string]struct{}{}
		for _, name := range opts.KnownConnectors {
			v.connectors[strings.ToLower(name)] = struct{}{}
		}
	}
	return v
}

// Validate checks a YAML or JSON job definition. The decoded definition is
// returned on the result when the document is well formed, even if a check
// failed.
func (v *Validator) Validate(payload []byte) Result {
	result := Result{Valid: true, GeneratedAt: time.Now()}

	raw, err := yaml.YAMLToJSON(payload)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("parse definition: %v", err))
		return result
	}
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		result.Valid = false
		result.Errors = append(result.Errors, "definition is empty")
		return result
	}

	schemaResult, err := gojsonschema.Validate(v.schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("schema validation error: %v", err))
		return result
	}
	if !schemaResult.Valid() {
		result.Valid = false
		for _, e := range schemaResult.Errors() {
			result.Errors = append(result.Errors, e.String())
		}
	}

	var def platform.JobDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("decode definition: %v", err))
		return result
	}
	result.Definition = &def

	result.Checks = append(result.Checks, checkSchedule(def.Schedule))
	result.Checks = append(result.Checks, checkTimeout(def.Timeout))
	result.Checks = append(result.Checks, v.checkConnector(def.Connector))

	for _, check := range result.Checks {
		if check.Status == StatusFail {
			result.Valid = false
			break
		}
	}
	return result
}

// Parse validates payload and returns the definition, or an error listing
// every problem found.
func (v *Validator) Parse(payload []byte) (*platform.JobDefinition, error) {
	res := v.Validate(payload)
	if res.Valid {
		return res.Definition, nil
	}
	problems := append([]string(nil), res.Errors...)
	for _, check := range res.Checks {
		if check.Status == StatusFail {
			problems = append(problems, fmt.Sprintf("%s: %s", check.Name, check.Message))
		}
	}
	return nil, fmt.Errorf("invalid job definition: %s", strings.Join(problems, "; "))
}

var cronField = regexp.MustCompile(`^[0-9A-Za-z*/,?#-]+$`)

var scheduleMacros = map[string]struct{}{
	"@yearly": {}, "@annually": {}, "@monthly": {}, "@weekly": {},
	"@daily": {}, "@midnight": {}, "@hourly": {},
}

func checkSchedule(schedule string) CheckResult {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return CheckResult{Name: "schedule", Status: StatusFail, Message: "schedule is required"}
	}
	if strings.HasPrefix(schedule, "@every ") {
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(schedule, "@every ")))
		if err != nil || d <= 0 {
			return CheckResult{Name: "schedule", Status: StatusFail, Message: fmt.Sprintf("invalid interval in %q", schedule)}
		}
		if d < time.Minute {
			return CheckResult{Name: "schedule", Status: StatusWarn, Message: fmt.Sprintf("interval %s is shorter than a minute", d)}
		}
		return CheckResult{Name: "schedule", Status: StatusPass, Message: fmt.Sprintf("runs every %s", d)}
	}
	if strings.HasPrefix(schedule, "@") {
		if _, ok := scheduleMacros[schedule]; ok {
			return CheckResult{Name: "schedule", Status: StatusPass, Message: schedule}
		}
		return CheckResult{Name: "schedule", Status: StatusFail, Message: fmt.Sprintf("unknown schedule macro %q", schedule)}
	}
	fields := strings.Fields(schedule)
	if len(fields) != 5 && len(fields) != 6 {
		return CheckResult{Name: "schedule", Status: StatusFail, Message: fmt.Sprintf("cron expression must have 5 or 6 fields, got %d", len(fields))}
	}
	for _, field := range fields {
		if !cronField.MatchString(field) {
			return CheckResult{Name: "schedule", Status: StatusFail, Message: fmt.Sprintf("invalid cron field %q", field)}
		}
	}
	return CheckResult{Name: "schedule", Status: StatusPass, Message: "cron expression"}
}

func checkTimeout(timeout string) CheckResult {
	if timeout == "" {
		return CheckResult{Name: "timeout", Status: StatusPass, Message: "backend default"}
	}
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return CheckResult{Name: "timeout", Status: StatusFail, Message: fmt.Sprintf("invalid duration %q", timeout)}
	}
	return CheckResult{Name: "timeout", Status: StatusPass, Message: d.String()}
}

func (v *Validator) checkConnector(name string) CheckResult {
	if name == "" {
		return CheckResult{Name: "connector", Status: StatusPass, Message: "no connector"}
	}
	if v.connectors == nil {
		return CheckResult{Name: "connector", Status: StatusWarn, Message: "connector list not loaded"}
	}
	if _, ok := v.connectors[strings.ToLower(name)]; !ok {
		return CheckResult{Name: "connector", Status: StatusFail, Message: fmt.Sprintf("connector %s not found", name)}
	}
	return CheckResult{Name: "connector", Status: StatusPass, Message: name}
}
