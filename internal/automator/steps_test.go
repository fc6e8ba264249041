package automator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/browser"
	"github.com/BoweryJG/clearverify-patient/internal/browser/browsertest"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

func newExecutor(p *browsertest.Page, portal *model.PortalConfig) *stepExecutor {
	opts := testOptions().withDefaults()
	return &stepExecutor{page: p, portal: portal, opts: opts, log: zap.NewNop()}
}

func TestResolveDestination_Login(t *testing.T) {
	p := browsertest.NewPage()
	ctx := context.Background()
	step := model.NavigateStep{Target: "login_page", Destination: model.DestinationLogin}

	got, err := newExecutor(p, &model.PortalConfig{PortalURL: "https://member.aetna.com"}).resolveDestination(ctx, step)
	require.NoError(t, err)
	assert.Equal(t, "https://member.aetna.com", got)

	got, err = newExecutor(p, &model.PortalConfig{InsurerName: "Delta Dental"}).resolveDestination(ctx, step)
	require.NoError(t, err)
	assert.Equal(t, "https://www.deltadental.com/member/login", got)
}

func TestResolveDestination_Eligibility(t *testing.T) {
	tests := []struct {
		name  string
		links []browser.Link
		want  string
	}{
		{
			name: "href eligibility beats earlier benefits link",
			links: []browser.Link{
				{Href: "https://p.example.com/benefits", Text: "Benefits"},
				{Href: "https://p.example.com/check-eligibility", Text: "Check"},
			},
			want: "https://p.example.com/check-eligibility",
		},
		{
			name: "href coverage",
			links: []browser.Link{
				{Href: "https://p.example.com/claims", Text: "Claims"},
				{Href: "https://p.example.com/Coverage/summary", Text: "Summary"},
			},
			want: "https://p.example.com/Coverage/summary",
		},
		{
			name: "anchor text",
			links: []browser.Link{
				{Href: "https://p.example.com/x?id=7", Text: "My Benefits"},
			},
			want: "https://p.example.com/x?id=7",
		},
		{
			name:  "no match appends benefits",
			links: []browser.Link{{Href: "https://p.example.com/claims", Text: "Claims"}},
			want:  "https://p.example.com/home/benefits",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := browsertest.NewPage()
			p.CurrentURL = "https://p.example.com/home/"
			p.PageLinks = tt.links
			got, err := newExecutor(p, &model.PortalConfig{}).resolveDestination(context.Background(),
				model.NavigateStep{Target: "eligibility_page", Destination: model.DestinationEligibility})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDestination_URL(t *testing.T) {
	e := newExecutor(browsertest.NewPage(), &model.PortalConfig{})
	got, err := e.resolveDestination(context.Background(), model.NavigateStep{Target: "t", URL: "https://x.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.example.com", got)

	_, err = e.resolveDestination(context.Background(), model.NavigateStep{Target: "t", Destination: model.DestinationURL})
	require.Error(t, err)
}

func TestFillField_UsernameFallsBackToMemberID(t *testing.T) {
	p := browsertest.NewPage()
	p.Elements["#memberid"] = ""
	p.Typed["#memberid"] = "stale"
	e := newExecutor(p, &model.PortalConfig{})
	e.creds = model.PatientCredentials{MemberID: "DD123456"}

	_, err := e.VisitFillField(context.Background(), model.FillFieldStep{
		Target: "username", Field: model.CredentialUsername, Selector: "#memberid",
	})
	require.NoError(t, err)
	assert.Equal(t, "DD123456", p.TypedInto("#memberid"))
}

func TestCleanText(t *testing.T) {
	tests := map[string]string{
		"  Active\n\tCoverage ": "Active Coverage",
		"$1,500.00*":            "$1,500.00",
		"Copay: $25":            "Copay $25",
		"Effective: 01/01/2024": "Effective 01/01/2024",
		"★★★":                   "",
		"In-Network (PPO)":      "In-Network PPO",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanText(in), in)
	}
}

func TestHumanPacer_Ranges(t *testing.T) {
	p := DefaultHumanPacer()
	for range 100 {
		d := p.TypeDelay()
		assert.GreaterOrEqual(t, d, p.MinType)
		assert.LessOrEqual(t, d, p.MaxType)
		s := p.StepDelay()
		assert.GreaterOrEqual(t, s, p.MinStep)
		assert.LessOrEqual(t, s, p.MaxStep)
	}
	assert.Zero(t, HumanPacer{}.TypeDelay())
}
