package model

// InsuranceInfo identifies the patient's insurer and membership, usually
// read from an insurance card.
type InsuranceInfo struct {
	InsuranceName string `json:"insuranceName" validate:"required"`
	MemberID      string `json:"memberId,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
}

// PatientCredentials are the patient's own portal credentials. They are
// supplied per request and never persisted or logged.
type PatientCredentials struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	LastFourSSN string `json:"lastFourSSN,omitempty" validate:"omitempty,len=4,numeric"`
	ZipCode     string `json:"zipCode,omitempty" validate:"omitempty,min=5,max=10"`
	MemberID    string `json:"memberId,omitempty"`
}

// CredentialField names a credential a fill step can type into the portal.
type CredentialField string

const (
	CredentialUsername CredentialField = "username"
	CredentialPassword CredentialField = "password"
	CredentialMemberID CredentialField = "memberId"
	CredentialDOB      CredentialField = "dob"
	CredentialSSN      CredentialField = "ssn"
	CredentialZipCode  CredentialField = "zipCode"
)

// Value resolves a credential field. Username falls back to the member ID
// since many portals log in with it.
func (c PatientCredentials) Value(field CredentialField) (string, bool) {
	var v string
	switch field {
	case CredentialUsername:
		v = c.Username
		if v == "" {
			v = c.MemberID
		}
	case CredentialPassword:
		v = c.Password
	case CredentialMemberID:
		v = c.MemberID
	case CredentialDOB:
		v = c.DateOfBirth
	case CredentialSSN:
		v = c.LastFourSSN
	case CredentialZipCode:
		v = c.ZipCode
	}
	return v, v != ""
}

// PatientID is the identity a consent token is issued for.
func (i InsuranceInfo) PatientID() string {
	if i.MemberID == "" {
		return "anonymous"
	}
	return i.MemberID
}
