package extract

import (
	"testing"

	"github.com/spigell/network-scout/internal/domain"
)

func TestDeterministicGithub(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "my github is", text: "my github is janedoe99", want: "janedoe99"},
		{name: "username phrasing", text: "My GitHub username is Jane-Doe.", want: "Jane-Doe"},
		{name: "profile url", text: "check https://github.com/octocat/hello-world", want: "octocat"},
		{name: "label", text: "gh: @torvalds", want: "torvalds"},
		{name: "loose phrasing", text: "the github I use most is devjane", want: "devjane"},
		{name: "trailing punctuation", text: "my github is janedoe99!", want: "janedoe99"},
		{name: "stop word", text: "my github is the best place for my code", want: ""},
		{name: "too short", text: "my github is jd", want: ""},
		{name: "email local part", text: "github aside, my contact is bob@example.com", want: ""},
		{name: "unrelated", text: "I love writing rust", want: ""},
		{name: "bare word", text: "other", want: ""},
	}

	e := New(0, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Deterministic(domain.Extracted{}, tt.text)
			if got.GithubUsername != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got.GithubUsername)
			}
		})
	}
}

func TestDeterministicEmail(t *testing.T) {
	t.Parallel()

	e := New(0, nil)
	got := e.Deterministic(domain.Extracted{}, "reach me at Jane.Doe+jobs@example.co.uk.")
	if got.Email != "Jane.Doe+jobs@example.co.uk" {
		t.Fatalf("unexpected email %q", got.Email)
	}

	got = e.Deterministic(domain.Extracted{}, "my email is jane at example dot com")
	if got.Email != "" {
		t.Fatalf("expected no email, got %q", got.Email)
	}
}

func TestDeterministicOnlyFillsUnsetFields(t *testing.T) {
	t.Parallel()

	e := New(0, nil)
	current := domain.Extracted{GithubUsername: "janedoe99"}
	got := e.Deterministic(current, "my github is other-handle, mail me at j@example.com")
	if got.GithubUsername != "" {
		t.Fatalf("github must not be re-extracted, got %q", got.GithubUsername)
	}
	if got.Email != "j@example.com" {
		t.Fatalf("unexpected email %q", got.Email)
	}
}

func TestFirstWriterWinsAcrossMessages(t *testing.T) {
	t.Parallel()

	e := New(0, nil)
	var profile domain.Extracted
	for _, text := range []string{"my github is janedoe99", "other", "my github is somebodyelse"} {
		profile, _ = Merge(profile, e.Deterministic(profile, text))
	}
	if profile.GithubUsername != "janedoe99" {
		t.Fatalf("expected janedoe99, got %q", profile.GithubUsername)
	}
}

func TestFromProposal(t *testing.T) {
	t.Parallel()

	low, high := 0.2, 0.9
	e := New(0.5, nil)

	tests := []struct {
		name   string
		p      *Proposal
		github string
		email  string
		skills int
	}{
		{name: "nil", p: nil},
		{name: "null literals", p: &Proposal{GithubUsername: "null", Email: "NULL", Soft: []string{"null"}}},
		{name: "valid", p: &Proposal{GithubUsername: "@janedoe99", Email: "mailto:jane@example.com", Hard: []string{"Go", "go", "Rust"}}, github: "janedoe99", email: "jane@example.com", skills: 2},
		{name: "profile url", p: &Proposal{GithubUsername: "https://github.com/janedoe99"}, github: "janedoe99"},
		{name: "invalid email", p: &Proposal{Email: "jane at example"}},
		{name: "below confidence", p: &Proposal{GithubUsername: "janedoe99", Confidence: &low}},
		{name: "above confidence", p: &Proposal{GithubUsername: "janedoe99", Confidence: &high}, github: "janedoe99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.FromProposal(tt.p)
			if got.GithubUsername != tt.github || got.Email != tt.email || got.SkillCount() != tt.skills {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestCombinePrefersDeterministic(t *testing.T) {
	t.Parallel()

	e := New(0, nil)
	got := e.Combine(domain.Extracted{}, "my github is janedoe99", &Proposal{
		GithubUsername: "jane-llm",
		Email:          "jane@example.com",
		Soft:           []string{"mentoring"},
	})
	if got.GithubUsername != "janedoe99" {
		t.Fatalf("deterministic result must win, got %q", got.GithubUsername)
	}
	if got.Email != "jane@example.com" || len(got.SoftSkills) != 1 {
		t.Fatalf("model proposal must fill the rest, got %+v", got)
	}
}

func TestMergeReportsChanges(t *testing.T) {
	t.Parallel()

	current := domain.Extracted{GithubUsername: "a-user", HardSkills: []string{"go"}}

	if _, changed := Merge(current, domain.Extracted{GithubUsername: "b-user", HardSkills: []string{"Go"}}); changed {
		t.Fatal("nothing new must report unchanged")
	}

	got, changed := Merge(current, domain.Extracted{SoftSkills: []string{"writing"}})
	if !changed || len(got.SoftSkills) != 1 || got.GithubUsername != "a-user" {
		t.Fatalf("unexpected merge %+v (changed=%v)", got, changed)
	}
}
