// Package prompts holds the versioned, named prompt resources used by the conversation engine.
// The default set is embedded at compile time and can be replaced by a YAML file on disk.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	Seed             = "seed"
	Inquire          = "inquire"
	WelcomeGathering = "welcome_gathering"
	Gathering        = "gathering"
	ExtractInfo      = "extract_info"
	GatherFollowup   = "gather_followup"
	MatchJobs        = "match_jobs"
	PresentJob       = "present_job"
	Interest         = "interest"
	StayWarm         = "stay_warm"
	FitScore         = "fit_score"
)

const (
	ReplyWelcome         = "welcome"
	ReplyUnknownUser     = "unknown_user"
	ReplyReferReminder   = "refer_reminder"
	ReplyReferUsage      = "refer_usage"
	ReplyInvalidReferral = "invalid_referral"
	ReplyAlreadyAdmitted = "already_admitted"
	ReplyWelcomeFallback = "welcome_fallback"
	ReplyClosing         = "closing"
	ReplyLink            = "link"
	ReplyJobUnavailable  = "job_unavailable"
	ReplyCodes           = "codes"
)

var required = []string{
	Seed, Inquire, WelcomeGathering, Gathering, ExtractInfo, GatherFollowup,
	MatchJobs, PresentJob, Interest, StayWarm, FitScore,
}

var requiredReplies = []string{
	ReplyWelcome, ReplyUnknownUser, ReplyReferReminder, ReplyReferUsage, ReplyInvalidReferral,
	ReplyAlreadyAdmitted, ReplyWelcomeFallback, ReplyClosing, ReplyLink, ReplyJobUnavailable, ReplyCodes,
}

//go:embed prompts.yaml
var defaultSet []byte

// ErrUnknownPrompt is returned for names absent from the set.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Template is a single named prompt resource.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
	Schema string `yaml:"schema"`
}

// Rendered is a template with its placeholders substituted and the persona prepended.
type Rendered struct {
	Name    string
	Version string
	System  string
	User    string
	Schema  string
}

// Set is a versioned collection of prompts and static replies.
type Set struct {
	Version string              `yaml:"version"`
	Persona string              `yaml:"persona"`
	Prompts map[string]Template `yaml:"prompts"`
	Replies map[string]string   `yaml:"replies"`
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Parse(defaultSet)
}

// Load reads a prompt set from path, falling back to the embedded set when path is empty.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file %s: %w", path, err)
	}

	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a YAML prompt set and checks that every prompt and reply the bot uses is present.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	if strings.TrimSpace(set.Version) == "" {
		return nil, errors.New("prompts version is required")
	}

	var missing []string
	for _, name := range required {
		tpl, ok := set.Prompts[name]
		if !ok || strings.TrimSpace(tpl.System) == "" {
			missing = append(missing, name)
		}
	}
	for _, name := range requiredReplies {
		if strings.TrimSpace(set.Replies[name]) == "" {
			missing = append(missing, "replies."+name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("prompts missing: %s", strings.Join(missing, ", "))
	}

	return &set, nil
}

// Render substitutes vars into the named prompt.
func (s *Set) Render(name string, vars map[string]string) (Rendered, error) {
	tpl, ok := s.Prompts[name]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}

	system := Format(tpl.System, vars)
	if persona := strings.TrimSpace(s.Persona); persona != "" {
		system = persona + "\n\n" + system
	}

	return Rendered{
		Name:    name,
		Version: s.Version,
		System:  strings.TrimSpace(system),
		User:    strings.TrimSpace(Format(tpl.User, vars)),
		Schema:  strings.TrimSpace(tpl.Schema),
	}, nil
}

// Reply returns a static reply with vars substituted. Unknown names yield an empty string.
func (s *Set) Reply(name string, vars map[string]string) string {
	return strings.TrimSpace(Format(s.Replies[name], vars))
}

// Names lists the prompt names in the set.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Prompts))
	for name := range s.Prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format replaces {{.Key}} placeholders with values from data.
func Format(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{."+key+"}}", value)
	}
	return result
}
