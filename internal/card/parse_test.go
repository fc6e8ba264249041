package card

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BoweryJG/clearverify-patient/internal/catalog"
)

func TestParseCard(t *testing.T) {
	text := `Delta Dental PPO
Member Name: ANN LEE
Member ID: DD1234567
Group: 00451
Customer Service 800-765-6003`

	res := ParseCard(text, catalog.Default())

	assert.Equal(t, "Delta Dental", res.Insurance.InsuranceName)
	assert.Equal(t, "DD1234567", res.Insurance.MemberID)
	assert.Equal(t, "Ann", res.Insurance.FirstName)
	assert.Equal(t, "Lee", res.Insurance.LastName)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, text, res.RawText)
}

func TestParseCard_Partial(t *testing.T) {
	res := ParseCard("ANTHEM\nSubscriber ID: XYZ987654321", catalog.Default())

	assert.Equal(t, "Blue Cross Blue Shield", res.Insurance.InsuranceName)
	assert.Equal(t, "XYZ987654321", res.Insurance.MemberID)
	assert.Empty(t, res.Insurance.LastName)
	assert.InDelta(t, 2.0/3, res.Confidence, 1e-9)
}

func TestParseCard_FuzzyInsurer(t *testing.T) {
	// OCR dropped a letter so no keyword matches.
	res := ParseCard("Humna\nID 123456789", catalog.Default())
	assert.Equal(t, "Humana", res.Insurance.InsuranceName)

	res = ParseCard("Acme Widgets\nNothing useful", catalog.Default())
	assert.Empty(t, res.Insurance.InsuranceName)
	assert.Zero(t, res.Confidence)
}

func TestMemberID(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"labeled", "Member ID: W123456789", "W123456789"},
		{"subscriber number", "Subscriber No. 55512345", "55512345"},
		{"hash", "ID# abc123456", "ABC123456"},
		{"label without digits skipped", "Member Services\nUHC123456789", "UHC123456789"},
		{"prefix and digits", "Plan PPO\nXJK0012345", "XJK0012345"},
		{"bare digits", "Cardholder\n123456789012", "123456789012"},
		{"phone is not an id", "Call 800-244-6224", ""},
		{"none", "Cigna Dental", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MemberID(tt.text))
		})
	}
}

func TestPatientName(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantFirst string
		wantLast  string
	}{
		{"labeled first last", "Name: John Q Smith", "John", "Smith"},
		{"labeled last comma first", "Subscriber Name: SMITH, JOHN Q", "John", "Smith"},
		{"bare comma line", "Aetna\nGARCIA, MARIA\nID W1234567", "Maria", "Garcia"},
		{"bare comma with initial", "DOE, JANE A.", "Jane", "Doe"},
		{"single word label", "Name: Cher", "", ""},
		{"nothing", "Delta Dental\nID 123456789", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := PatientName(tt.text)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
