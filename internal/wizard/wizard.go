// Package wizard walks a user through creating workflow settings.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"gopkg.in/yaml.v3"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
	"github.com/joelklabo/shep/internal/presets"
)

// ErrAborted is returned when the user declines to replace existing settings.
var ErrAborted = errors.New("aborted: settings already exist")

// Prompter abstracts survey for testability.
type Prompter interface {
	AskSelect(label string, options []string, def string) (string, error)
	AskInput(label, def string) (string, error)
	AskPassword(label string) (string, error)
	AskConfirm(label string, def bool) (bool, error)
}

// Run asks for a preset and its overrides, then stores the settings through
// repo. With dry-run confirmed the YAML is written to out and nothing is stored.
func Run(ctx context.Context, repo ports.SettingsRepository, p Prompter, out io.Writer) (domain.Settings, error) {
	if p == nil {
		p = &surveyPrompter{}
	}
	now := time.Now().UTC()

	_, err := repo.Load(ctx)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Settings{}, err
	}
	if exists {
		overwrite, err := p.AskConfirm("Settings already exist. Overwrite?", false)
		if err != nil {
			return domain.Settings{}, err
		}
		if !overwrite {
			return domain.Settings{}, ErrAborted
		}
	}

	reg := GetRegistry()
	presetChoice, err := p.AskSelect("Pick a preset", presetNames(reg), defaultChoice("cautious", presetNames(reg)))
	if err != nil {
		return domain.Settings{}, err
	}
	s, err := presets.Settings(presetChoice, now)
	if err != nil {
		return domain.Settings{}, err
	}

	s.Agent.Type, err = p.AskSelect("Agent", agentNames(reg.Agents), defaultChoice(s.Agent.Type, agentNames(reg.Agents)))
	if err != nil {
		return domain.Settings{}, err
	}
	if s.Agent.Type != domain.AgentEcho {
		s.Agent.AuthMethod, err = p.AskSelect("Authentication", []string{"session", "token"}, defaultChoice(s.Agent.AuthMethod, []string{"session", "token"}))
		if err != nil {
			return domain.Settings{}, err
		}
		if s.Agent.AuthMethod == "token" {
			tok, err := p.AskPassword("API token")
			if err != nil {
				return domain.Settings{}, err
			}
			if tok == "" {
				return domain.Settings{}, errors.New("token is required for token auth")
			}
			s.Agent.Token = tok
		}
		if s.Models.Implement, err = p.AskInput("Model for implementation", s.Models.Implement); err != nil {
			return domain.Settings{}, err
		}
	}

	gates := &s.Workflow.ApprovalGates
	for _, q := range []struct {
		label string
		dst   *bool
	}{
		{"Continue to planning without approving the requirements?", &gates.AllowPRD},
		{"Continue to implementation without approving the plan?", &gates.AllowPlan},
		{"Merge without a final approval?", &gates.AllowMerge},
		{"Push the branch when implementation completes?", &s.Workflow.PushOnImplementationComplete},
		{"Open a pull request when implementation completes?", &s.Workflow.OpenPROnImplementationComplete},
	} {
		if *q.dst, err = p.AskConfirm(q.label, *q.dst); err != nil {
			return domain.Settings{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return domain.Settings{}, err
	}

	dryRun, err := p.AskConfirm("Dry-run only (preview settings without saving)?", false)
	if err != nil {
		return domain.Settings{}, err
	}
	if dryRun {
		data, err := yaml.Marshal(s)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("marshal settings: %w", err)
		}
		if out != nil {
			fmt.Fprintf(out, "Dry run: settings NOT saved.\n%s", data)
		}
		return s, nil
	}

	if exists {
		err = repo.Update(ctx, s)
	} else {
		err = repo.Initialize(ctx, s)
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return repo.Load(ctx)
}

// surveyPrompter is the real interactive implementation.
type surveyPrompter struct{}

func (surveyPrompter) AskSelect(label string, options []string, def string) (string, error) {
	sel := def
	prompt := &survey.Select{Message: label, Options: options, Default: def}
	if err := survey.AskOne(prompt, &sel); err != nil {
		return "", err
	}
	return sel, nil
}

func (surveyPrompter) AskInput(label, def string) (string, error) {
	ans := def
	prompt := &survey.Input{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return "", err
	}
	return ans, nil
}

func (surveyPrompter) AskPassword(label string) (string, error) {
	var ans string
	prompt := &survey.Password{Message: label}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return "", err
	}
	return ans, nil
}

func (surveyPrompter) AskConfirm(label string, def bool) (bool, error) {
	ans := def
	prompt := &survey.Confirm{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return false, err
	}
	return ans, nil
}

func agentNames(opts []AgentOption) []string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.Name)
	}
	return names
}

func presetNames(reg Registry) []string {
	names := make([]string, 0, len(reg.Presets))
	for _, p := range reg.Presets {
		names = append(names, p.Name)
	}
	return names
}

func defaultChoice(defaultVal string, options []string) string {
	for _, opt := range options {
		if opt == defaultVal {
			return defaultVal
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return defaultVal
}

// StubPrompter is used in tests.
type StubPrompter struct {
	Selects   []string
	Inputs    []string
	Passwords []string
	Confirms  []bool
}

func (s *StubPrompter) popSelect(def string) string {
	if len(s.Selects) == 0 {
		return def
	}
	v := s.Selects[0]
	s.Selects = s.Selects[1:]
	return v
}

func (s *StubPrompter) popInput(def string) string {
	if len(s.Inputs) == 0 {
		return def
	}
	v := s.Inputs[0]
	s.Inputs = s.Inputs[1:]
	return v
}

func (s *StubPrompter) popPassword() string {
	if len(s.Passwords) == 0 {
		return ""
	}
	v := s.Passwords[0]
	s.Passwords = s.Passwords[1:]
	return v
}

func (s *StubPrompter) popConfirm(def bool) bool {
	if len(s.Confirms) == 0 {
		return def
	}
	v := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return v
}

func (s *StubPrompter) AskSelect(label string, options []string, def string) (string, error) {
	return s.popSelect(def), nil
}
func (s *StubPrompter) AskInput(label, def string) (string, error) {
	return s.popInput(def), nil
}
func (s *StubPrompter) AskPassword(label string) (string, error) {
	return s.popPassword(), nil
}
func (s *StubPrompter) AskConfirm(label string, def bool) (bool, error) {
	return s.popConfirm(def), nil
}
