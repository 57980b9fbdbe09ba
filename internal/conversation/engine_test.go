package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/matching"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/store"
)

// scriptedGateway answers each prompt with queued JSON replies. The last reply repeats.
type scriptedGateway struct {
	set     *prompts.Set
	replies map[string][]string
	err     error
	calls   []string
}

func (g *scriptedGateway) Prompts() *prompts.Set { return g.set }

func (g *scriptedGateway) Structured(_ context.Context, name string, _ map[string]string, out any) error {
	g.calls = append(g.calls, name)
	if g.err != nil {
		return g.err
	}
	queue := g.replies[name]
	if len(queue) == 0 {
		return fmt.Errorf("no scripted reply for %s", name)
	}
	raw := queue[0]
	if len(queue) > 1 {
		g.replies[name] = queue[1:]
	}
	return json.Unmarshal([]byte(raw), out)
}

type captureSender struct {
	sent []string
	err  error
}

func (s *captureSender) Send(_ context.Context, _ *domain.Candidate, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type harness struct {
	engine  *Engine
	store   *store.Memory
	archive *archive.Memory
	gateway *scriptedGateway
	sender  *captureSender
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	set, err := prompts.Default()
	require.NoError(t, err)

	h := &harness{
		store:   store.NewMemory(),
		archive: archive.NewMemory(),
		gateway: &scriptedGateway{set: set, replies: map[string][]string{}},
		sender:  &captureSender{},
	}
	h.engine = New(Deps{
		Store:   h.store,
		Archive: h.archive,
		Dedup:   h.archive,
		Gateway: h.gateway,
		Gate:    referral.New(h.store, referral.Config{}, nil),
		Matcher: matching.New(h.gateway, h.store, nil),
		Sender:  h.sender,
	}, cfg)
	return h
}

func (h *harness) seed(t *testing.T, c *domain.Candidate) {
	t.Helper()
	require.NoError(t, h.store.CreateCandidate(context.Background(), c))
}

func (h *harness) candidate(t *testing.T, id string) *domain.Candidate {
	t.Helper()
	c, err := h.store.GetCandidate(context.Background(), id)
	require.NoError(t, err)
	return c
}

func tgMessage(userID, handle, msgID, text string) platform.Inbound {
	return platform.Inbound{
		Platform:  domain.PlatformTelegram,
		UserID:    userID,
		ChatID:    100,
		Handle:    handle,
		MessageID: msgID,
		Text:      text,
	}
}

func TestReferralFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{SkipInquiry: true})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:1", Platform: domain.PlatformTelegram, Handle: "alice", State: domain.StateGathering})
	require.NoError(t, h.store.InsertCode(ctx, domain.ReferralCode{Code: "CODE123", OwnerID: "telegram:1"}))
	h.gateway.replies[prompts.WelcomeGathering] = []string{`{"message": "welcome eve, alice vouched for you"}`}

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "eve", "1", "/start"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatePreReferral, out.State)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyWelcome, nil)}, out.Replies)

	out, err = h.engine.HandleMessage(ctx, tgMessage("2", "eve", "2", "/refer @Alice CODE123"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, out.State)
	assert.Equal(t, []domain.State{domain.StateReferred, domain.StateGathering}, out.Transitions)
	assert.Equal(t, []string{"welcome eve, alice vouched for you"}, out.Replies)

	eve := h.candidate(t, "telegram:2")
	assert.Equal(t, "telegram:1", eve.ReferrerID)
	assert.Equal(t, "CODE123", eve.ReferralCode)

	// The code is spent: a second newcomer cannot reuse it.
	_, err = h.engine.HandleMessage(ctx, tgMessage("3", "mallory", "1", "/start"))
	require.NoError(t, err)
	out, err = h.engine.HandleMessage(ctx, tgMessage("3", "mallory", "2", "/refer @alice CODE123"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatePreReferral, out.State)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyInvalidReferral, nil)}, out.Replies)

	history, err := h.archive.All(ctx, "telegram:2")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestReferralWelcomeFallsBackWhenModelFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{SkipInquiry: true})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, Handle: "eve", State: domain.StatePreReferral})
	h.gateway.err = errors.New("model down")

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "eve", "5", "/refer @wezabis anything"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, out.State)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyWelcomeFallback, map[string]string{"Referrer": "@wezabis"})}, out.Replies)
}

func TestReferRejectsSelfAndBadUsage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{SkipInquiry: true})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, Handle: "eve", State: domain.StatePreReferral})

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "eve", "1", "/refer"))
	require.NoError(t, err)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyReferUsage, nil)}, out.Replies)

	out, err = h.engine.HandleMessage(ctx, tgMessage("2", "eve", "2", "/refer@scout_bot @eve CODE"))
	require.NoError(t, err)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyInvalidReferral, nil)}, out.Replies)
	assert.Equal(t, domain.StatePreReferral, h.candidate(t, "telegram:2").State)
}

func TestUnknownUserGetsNotice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	out, err := h.engine.HandleMessage(ctx, tgMessage("9", "ghost", "1", "hello?"))
	require.NoError(t, err)
	assert.True(t, out.Unknown)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyUnknownUser, nil)}, out.Replies)
	assert.Empty(t, h.gateway.calls)

	_, err = h.store.GetCandidate(ctx, "telegram:9")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	history, err := h.archive.All(ctx, "telegram:9")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDuplicateMessageIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StatePreReferral})

	_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "42", "hi"))
	require.NoError(t, err)
	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "42", "hi"))
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Len(t, h.sender.sent, 1)
}

func TestInquirePassNeedsPriorFollowUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateReferred})
	h.gateway.replies[prompts.Inquire] = []string{`{"message": "cool, what are you building?", "action": "PASS"}`}

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "I build compilers"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateReferred, out.State)
	assert.Empty(t, out.Transitions)
	assert.Equal(t, 1, h.candidate(t, "telegram:2").InquireTurns)

	out, err = h.engine.HandleMessage(ctx, tgMessage("2", "", "2", "mostly in Go"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, out.State)
	assert.Equal(t, []string{"cool, what are you building?"}, out.Replies)
}

func TestGatheringExtractsAndAdvances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{
		PlatformID: "telegram:2",
		Platform:   domain.PlatformTelegram,
		State:      domain.StateGathering,
		Extracted: domain.Extracted{
			Email:      "eve@example.com",
			HardSkills: []string{"go", "rust", "sql", "k8s"},
			SoftSkills: []string{"mentoring", "writing"},
		},
	})
	h.gateway.replies[prompts.Gathering] = []string{
		`{"message": "nice, thanks!", "extracted": {"github_username": "null", "email": "other@example.com", "soft": ["curious"], "hard": ["Go"]}}`,
	}

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "my github is janedoe99"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, out.State)
	assert.Equal(t, []string{"nice, thanks!"}, out.Replies)

	eve := h.candidate(t, "telegram:2")
	assert.Equal(t, "janedoe99", eve.Extracted.GithubUsername)
	assert.Equal(t, "eve@example.com", eve.Extracted.Email)
	assert.Equal(t, 7, eve.Extracted.SkillCount())
}

func TestLegacyCandidateMovesToTesting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{
		PlatformID: "x:janedev",
		Platform:   domain.PlatformX,
		Handle:     "janedev",
		State:      domain.StateGathering,
		Extracted:  domain.Extracted{GithubUsername: "janedev"},
	})
	h.gateway.replies[prompts.Gathering] = []string{`{"message": "got it"}`}

	out, err := h.engine.HandleMessage(ctx, platform.Inbound{
		Platform:  domain.PlatformX,
		UserID:    "555",
		Handle:    "JaneDev",
		MessageID: "e1",
		Text:      "sure, jane@dev.io",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateTesting, out.State)
}

func TestModelFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateGathering})
	h.gateway.err = errors.New("quota exceeded")

	_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "my github is janedoe99"))
	require.Error(t, err)

	eve := h.candidate(t, "telegram:2")
	assert.Equal(t, domain.StateGathering, eve.State)
	assert.Empty(t, eve.Extracted.GithubUsername)
	assert.Empty(t, h.sender.sent)

	history, err := h.archive.All(ctx, "telegram:2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.AuthorUser, history[0].Author)
}

func TestPermissionErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateStalled})
	h.sender.err = fmt.Errorf("bot was blocked: %w", platform.ErrPermission)

	_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "hello again"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrPermission))
	assert.Contains(t, h.candidate(t, "telegram:2").Issue, "blocked")
}

func TestClosedStatesGetStaticClosing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateRejected})

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "any news?"))
	require.NoError(t, err)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyClosing, nil)}, out.Replies)
	assert.Empty(t, h.gateway.calls)
}

func TestMatchPresentedThenLinkOnInterest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateReady})
	job := &domain.JobPosting{CompanyName: "Acme", JobDescription: "Go backend", ContactLink: "https://cal.com/acme"}
	require.NoError(t, h.store.CreateJob(ctx, job))

	h.gateway.replies[prompts.MatchJobs] = []string{`{"match_found": true, "job_id": "` + job.ID + `", "match_reason": "go"}`}
	h.gateway.replies[prompts.PresentJob] = []string{`{"message": "Acme needs a Go person, interested?", "provide_link": false}`}
	h.gateway.replies[prompts.Interest] = []string{`{"interested": true, "message": "great!"}`}

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "anything for me?"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme needs a Go person, interested?"}, out.Replies)
	match := h.candidate(t, "telegram:2").CurrentJobMatch
	require.NotNil(t, match)
	assert.True(t, match.PendingLink)

	out, err = h.engine.HandleMessage(ctx, tgMessage("2", "", "2", "yes!"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"great!",
		set(t).Reply(prompts.ReplyLink, map[string]string{"Company": "Acme", "Link": "https://cal.com/acme"}),
	}, out.Replies)

	match = h.candidate(t, "telegram:2").CurrentJobMatch
	assert.True(t, match.Disclosed)
	assert.False(t, match.PendingLink)

	stored, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProgress, stored.Status)
}

func TestTakenJobIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	job := &domain.JobPosting{CompanyName: "Acme", ContactLink: "https://cal.com/acme"}
	require.NoError(t, h.store.CreateJob(ctx, job))
	_, err := h.store.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	h.seed(t, &domain.Candidate{
		PlatformID:      "telegram:2",
		Platform:        domain.PlatformTelegram,
		State:           domain.StateReady,
		CurrentJobMatch: &domain.JobMatch{JobID: job.ID, PendingLink: true},
	})
	h.gateway.replies[prompts.Interest] = []string{`{"interested": true, "message": "great!"}`}

	out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "yes"))
	require.NoError(t, err)
	assert.Equal(t, []string{set(t).Reply(prompts.ReplyJobUnavailable, map[string]string{"Company": "Acme"})}, out.Replies)
	assert.Nil(t, h.candidate(t, "telegram:2").CurrentJobMatch)
}

func TestSendFailureLeavesTurnUncommitted(t *testing.T) {
	ctx := context.Background()
	sendErr := errors.New("telegram 502")

	t.Run("inquire pass", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateReferred, InquireTurns: 1})
		h.gateway.replies[prompts.Inquire] = []string{`{"message": "welcome aboard", "action": "pass"}`}
		h.sender.err = sendErr

		_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "I ship Go services"))
		require.ErrorIs(t, err, sendErr)

		eve := h.candidate(t, "telegram:2")
		assert.Equal(t, domain.StateReferred, eve.State)
		assert.Equal(t, 1, eve.InquireTurns)
	})

	t.Run("gathering", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateGathering})
		h.gateway.replies[prompts.Gathering] = []string{`{"message": "thanks", "extracted": {"hard": ["go"]}}`}
		h.sender.err = sendErr

		_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "my github is janedoe99"))
		require.ErrorIs(t, err, sendErr)

		eve := h.candidate(t, "telegram:2")
		assert.Equal(t, domain.StateGathering, eve.State)
		assert.Empty(t, eve.Extracted.GithubUsername)
		assert.Zero(t, eve.Extracted.SkillCount())
	})

	t.Run("link on first pitch", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.seed(t, &domain.Candidate{PlatformID: "telegram:2", Platform: domain.PlatformTelegram, State: domain.StateReady})
		job := &domain.JobPosting{CompanyName: "Acme", JobDescription: "Go backend", ContactLink: "https://cal.com/acme"}
		require.NoError(t, h.store.CreateJob(ctx, job))
		h.gateway.replies[prompts.MatchJobs] = []string{`{"match_found": true, "job_id": "` + job.ID + `", "match_reason": "go"}`}
		h.gateway.replies[prompts.PresentJob] = []string{`{"message": "Acme wants you, book here", "provide_link": true}`}
		h.sender.err = sendErr

		_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "anything for me?"))
		require.ErrorIs(t, err, sendErr)

		stored, err := h.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobNotStarted, stored.Status)
		assert.Nil(t, h.candidate(t, "telegram:2").CurrentJobMatch)

		h.sender.err = nil
		out, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "2", "hello?"))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Acme wants you, book here",
			set(t).Reply(prompts.ReplyLink, map[string]string{"Company": "Acme", "Link": "https://cal.com/acme"}),
		}, out.Replies)
		assert.True(t, h.candidate(t, "telegram:2").CurrentJobMatch.Disclosed)
	})

	t.Run("link after interest", func(t *testing.T) {
		h := newHarness(t, Config{})
		job := &domain.JobPosting{CompanyName: "Acme", ContactLink: "https://cal.com/acme"}
		require.NoError(t, h.store.CreateJob(ctx, job))
		h.seed(t, &domain.Candidate{
			PlatformID:      "telegram:2",
			Platform:        domain.PlatformTelegram,
			State:           domain.StateReady,
			CurrentJobMatch: &domain.JobMatch{JobID: job.ID, PendingLink: true},
		})
		h.gateway.replies[prompts.Interest] = []string{`{"interested": true, "message": "great!"}`}
		h.sender.err = sendErr

		_, err := h.engine.HandleMessage(ctx, tgMessage("2", "", "1", "yes"))
		require.ErrorIs(t, err, sendErr)

		match := h.candidate(t, "telegram:2").CurrentJobMatch
		require.NotNil(t, match)
		assert.True(t, match.PendingLink)
		assert.False(t, match.Disclosed)
		stored, err := h.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobNotStarted, stored.Status)
	})
}

func TestParseCommand(t *testing.T) {
	for input, want := range map[string]string{
		"/start":              "/start",
		"/START@scout_bot":    "/start",
		"/refer @alice CODE1": "/refer",
		"hello /start":        "",
	} {
		got, _ := parseCommand(input)
		assert.Equal(t, want, got, input)
	}
}

func set(t *testing.T) *prompts.Set {
	t.Helper()
	s, err := prompts.Default()
	require.NoError(t, err)
	return s
}
