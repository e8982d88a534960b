package models

// Eligibility is the server-computed voting eligibility of a member
type Eligibility string

// Eligibility constants
const (
	EligibilityEligible   Eligibility = "ELIGIBLE"
	EligibilityIneligible Eligibility = "INELIGIBLE"
)

// DuesStatus is the payment standing of a member
type DuesStatus string

// Dues status constants
const (
	DuesStatusPaid       DuesStatus = "PAID"
	DuesStatusDelinquent DuesStatus = "DELINQUENT"
)

// Member represents a congregation member as returned by the backend
type Member struct {
	ID             string      `json:"id"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	Phone          string      `json:"phone"`
	Eligibility    Eligibility `json:"eligibility"`
	Status         DuesStatus  `json:"status"`
	DaysDelinquent int         `json:"days_delinquent"`
}

// MemberFilter holds the server-side filters supported by the member list endpoint
type MemberFilter struct {
	Eligibility Eligibility
	Status      DuesStatus
	Page        int
	Limit       int
}

// DelinquencyBuckets counts delinquent members by days overdue
type DelinquencyBuckets struct {
	Days0To30  int `json:"days_0_30"`
	Days31To60 int `json:"days_31_60"`
	Days61To90 int `json:"days_61_90"`
	Days90Plus int `json:"days_90_plus"`
}

// MemberStats is the backend's aggregate view of the membership
type MemberStats struct {
	Total       int                `json:"total"`
	Eligible    int                `json:"eligible"`
	Delinquency DelinquencyBuckets `json:"delinquency"`
}
