// Package scenario describes scripted fetch workloads in YAML and replays them
// through a simulation.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/workertiming/session"
)

// Errors reported while validating a scenario.
var (
	ErrUnknownStep       = errors.New("unknown step")
	ErrUnknownController = errors.New("unknown controller")
	ErrInvalidScenario   = errors.New("invalid scenario")
)

// The operations a handler step can perform.
const (
	OpMark      = "mark"
	OpMeasure   = "measure"
	OpWaitUntil = "waitUntil"
	OpSleep     = "sleep"
	OpRespond   = "respond"
	OpFail      = "fail"
)

// A Scenario is a set of controllers and the requests fetched through them.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Controllers []Controller `yaml:"controllers"`
	Requests    []Request    `yaml:"requests"`
}

// A Controller is a controlling context and the script its fetch handler
// runs for every request dispatched to it.
type Controller struct {
	ID     string `yaml:"id"`
	Origin string `yaml:"origin"`
	Steps  []Step `yaml:"steps"`
}

// A Step is one operation of a handler script.
//
// mark records a point at the current handler time. measure records a span
// from the named mark, or from fetch start, to now. waitUntil registers an
// extension that settles SettleAfter ms later. sleep delays the following
// steps. respond and fail decide the response. A script without either
// declines.
type Step struct {
	Op          string         `yaml:"op"`
	Name        string         `yaml:"name,omitempty"`
	Since       string         `yaml:"since,omitempty"`
	Label       string         `yaml:"label,omitempty"`
	SettleAfter float64        `yaml:"settleAfter,omitempty"`
	Reject      string         `yaml:"reject,omitempty"`
	Delay       float64        `yaml:"delay,omitempty"`
	Status      int            `yaml:"status,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// A Request is one fetch, its redirects and how the network finishes it.
type Request struct {
	ID         string     `yaml:"id"`
	URL        string     `yaml:"url"`
	Origin     string     `yaml:"origin"`
	Kind       string     `yaml:"kind"`
	Controller string     `yaml:"controller"`
	At         float64    `yaml:"at"`
	Redirects  []Redirect `yaml:"redirects,omitempty"`

	// CompleteAt is when the network delivers the response end. It is
	// measured from At. Zero means the request never completes.
	CompleteAt float64 `yaml:"completeAt,omitempty"`

	// AbortAt cancels the request, measured from At. Zero means never.
	AbortAt float64 `yaml:"abortAt,omitempty"`
}

// A Redirect moves a request to another URL, measured from the request's At.
// At must be positive so the current hop has been dispatched.
type Redirect struct {
	To         string  `yaml:"to"`
	At         float64 `yaml:"at"`
	Controller string  `yaml:"controller,omitempty"`
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	s := &Scenario{}
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// Validate checks the references and steps of the scenario.
func (s *Scenario) Validate() error {
	controllers := make(map[string]bool)

	for _, c := range s.Controllers {
		if c.ID == "" {
			return fmt.Errorf("%w: controller without id", ErrInvalidScenario)
		}

		if controllers[c.ID] {
			return fmt.Errorf("%w: duplicate controller %s",
				ErrInvalidScenario, c.ID)
		}
		controllers[c.ID] = true

		for i, step := range c.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("controller %s step %d: %w", c.ID, i, err)
			}
		}
	}

	requests := make(map[string]bool)
	for _, r := range s.Requests {
		if err := r.validate(controllers); err != nil {
			return err
		}

		if requests[r.ID] {
			return fmt.Errorf("%w: duplicate request %s",
				ErrInvalidScenario, r.ID)
		}
		requests[r.ID] = true
	}

	return nil
}

func (st Step) validate() error {
	switch st.Op {
	case OpMark, OpMeasure:
		if st.Name == "" {
			return fmt.Errorf("%w: %s needs a name", ErrInvalidScenario, st.Op)
		}
	case OpWaitUntil:
		if st.SettleAfter < 0 {
			return fmt.Errorf("%w: negative settleAfter", ErrInvalidScenario)
		}
	case OpSleep:
		if st.Delay <= 0 {
			return fmt.Errorf("%w: sleep needs a positive delay",
				ErrInvalidScenario)
		}
	case OpRespond, OpFail:
	default:
		return fmt.Errorf("%w %q", ErrUnknownStep, st.Op)
	}

	return nil
}

func (r Request) validate(controllers map[string]bool) error {
	if r.ID == "" {
		return fmt.Errorf("%w: request without id", ErrInvalidScenario)
	}

	if r.URL == "" {
		return fmt.Errorf("%w: request %s without url", ErrInvalidScenario, r.ID)
	}

	if _, err := ParseKind(r.Kind); err != nil {
		return err
	}

	if r.Controller != "" && !controllers[r.Controller] {
		return fmt.Errorf("request %s: %w %s",
			r.ID, ErrUnknownController, r.Controller)
	}

	if r.At < 0 || r.CompleteAt < 0 || r.AbortAt < 0 {
		return fmt.Errorf("%w: request %s has a negative time",
			ErrInvalidScenario, r.ID)
	}

	for _, rd := range r.Redirects {
		if rd.To == "" || rd.At <= 0 {
			return fmt.Errorf("%w: request %s has a bad redirect",
				ErrInvalidScenario, r.ID)
		}

		if rd.Controller != "" && !controllers[rd.Controller] {
			return fmt.Errorf("request %s: %w %s",
				r.ID, ErrUnknownController, rd.Controller)
		}
	}

	return nil
}

// ParseKind parses a request kind. An empty string is a subresource.
func ParseKind(s string) (session.RequestKind, error) {
	switch strings.ToLower(s) {
	case "", "subresource":
		return session.KindSubresource, nil
	case "navigation":
		return session.KindNavigation, nil
	default:
		return session.KindSubresource,
			fmt.Errorf("%w: unknown request kind %q", ErrInvalidScenario, s)
	}
}

func (s *Scenario) controller(id string) (Controller, bool) {
	for _, c := range s.Controllers {
		if c.ID == id {
			return c, true
		}
	}

	return Controller{}, false
}
