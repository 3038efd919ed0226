package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the plan-file schema this build reads and writes.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned when a plan file declares a schema
// version this build does not understand.
var ErrUnsupportedVersion = errors.New("unsupported plan schema version")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// planFile is the on-disk schema. The in-memory model stays free of
// serialization concerns; everything crossing the boundary goes through
// these structs.
type planFile struct {
	Version int        `yaml:"version" validate:"required"`
	Goal    string     `yaml:"goal" validate:"required"`
	Tasks   []taskFile `yaml:"tasks" validate:"required,min=1,dive"`
}

type taskFile struct {
	ID          string          `yaml:"id" validate:"required"`
	Description string          `yaml:"description" validate:"required"`
	Kind        string          `yaml:"kind" validate:"required,oneof=read write execute validate plan think"`
	Requires    requirementFile `yaml:"requires"`
	DependsOn   []string        `yaml:"depends_on,omitempty" validate:"dive,required"`
	Estimate    string          `yaml:"estimate" validate:"required"`
	Risk        string          `yaml:"risk,omitempty" validate:"omitempty,oneof=low medium high"`
}

type requirementFile struct {
	Provider    string         `yaml:"provider,omitempty"`
	Tools       []string       `yaml:"tools,omitempty"`
	Inputs      map[string]any `yaml:"inputs,omitempty"`
	ContextDeps []string       `yaml:"context,omitempty"`
}

// versionProbe reads only the version field so version mismatches produce a
// clear error instead of a pile of unknown-field complaints.
type versionProbe struct {
	Version int `yaml:"version"`
}

// Decode parses and validates a plan file. Malformed documents, unknown
// fields, unknown schema versions, bad enum values, unparsable estimates,
// and duplicate task ids are all rejected here, before the plan reaches the
// graph or the engine.
func Decode(data []byte) (*Plan, error) {
	var probe versionProbe
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if probe.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, probe.Version, SchemaVersion)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var pf planFile
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}

	if err := validate.Struct(&pf); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: fails %q", fieldPath(e.Namespace()), e.Tag()))
			}
			return nil, fmt.Errorf("invalid plan: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	tasks := make([]*Task, 0, len(pf.Tasks))
	for _, tf := range pf.Tasks {
		est, err := time.ParseDuration(tf.Estimate)
		if err != nil {
			return nil, fmt.Errorf("task %q: bad estimate %q: %w", tf.ID, tf.Estimate, err)
		}
		if est <= 0 {
			return nil, fmt.Errorf("task %q: estimate must be positive, got %q", tf.ID, tf.Estimate)
		}
		tasks = append(tasks, &Task{
			ID:          tf.ID,
			Description: tf.Description,
			Kind:        TaskKind(tf.Kind),
			Requires: Requirement{
				Provider:    tf.Requires.Provider,
				Tools:       tf.Requires.Tools,
				Inputs:      tf.Requires.Inputs,
				ContextDeps: tf.Requires.ContextDeps,
			},
			DependsOn: tf.DependsOn,
			Estimate:  est,
			Risk:      RiskTier(tf.Risk),
		})
	}

	p := NewPlan(pf.Goal, tasks)
	if err := p.CheckIDs(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return p, nil
}

// fieldPath trims the root struct name from a validator namespace, leaving
// a path like "tasks[2].id".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Encode renders a plan in the canonical version-1 form.
func Encode(p *Plan) ([]byte, error) {
	pf := planFile{
		Version: SchemaVersion,
		Goal:    p.Goal,
		Tasks:   make([]taskFile, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		pf.Tasks = append(pf.Tasks, taskFile{
			ID:          t.ID,
			Description: t.Description,
			Kind:        string(t.Kind),
			Requires: requirementFile{
				Provider:    t.Requires.Provider,
				Tools:       t.Requires.Tools,
				Inputs:      t.Requires.Inputs,
				ContextDeps: t.Requires.ContextDeps,
			},
			DependsOn: t.DependsOn,
			Estimate:  formatEstimate(t.Estimate),
			Risk:      string(t.Risk),
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&pf); err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	return buf.Bytes(), nil
}

// formatEstimate renders durations compactly: whole hours as "2h", whole
// minutes as "10m", everything else in time.Duration notation.
func formatEstimate(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

// Load reads and decodes a plan file from disk.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Save encodes a plan and writes it to disk.
func Save(p *Plan, path string) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing plan file: %w", err)
	}
	return nil
}
