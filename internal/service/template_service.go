package service

import (
	"regexp"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// Placeholder names recognised in a message body
const (
	PlaceholderFirstName    = "firstName"
	PlaceholderLastName     = "lastName"
	PlaceholderEligibility  = "eligibility"
	PlaceholderBallotLink   = "ballotLink"
	PlaceholderRegisterLink = "registerLink"
)

// Default preview link targets. Real per-recipient links are injected by the backend at send time.
const (
	DefaultBallotPreviewLink   = "https://example.org/ballot/preview"
	DefaultRegisterPreviewLink = "https://example.org/register/preview"
)

// TemplateService renders message bodies for preview
type TemplateService interface {
	Render(body string, member *models.Member) string
	ExtractPlaceholders(body string) []string
	UnknownPlaceholders(body string) []string
}

type templateService struct {
	placeholderPattern *regexp.Regexp
	ballotLink         string
	registerLink       string
}

// NewTemplateService creates a new template service. Empty links fall back to the defaults.
func NewTemplateService(ballotLink, registerLink string) TemplateService {
	if ballotLink == "" {
		ballotLink = DefaultBallotPreviewLink
	}
	if registerLink == "" {
		registerLink = DefaultRegisterPreviewLink
	}
	return &templateService{
		placeholderPattern: regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`),
		ballotLink:         ballotLink,
		registerLink:       registerLink,
	}
}

// Render replaces known placeholders with member data. Missing fields become empty
// strings; unknown placeholders are left as written. The output is not truncated.
func (s *templateService) Render(body string, member *models.Member) string {
	if member == nil {
		member = &models.Member{}
	}

	fieldMap := map[string]string{
		PlaceholderFirstName:    member.FirstName,
		PlaceholderLastName:     member.LastName,
		PlaceholderEligibility:  string(member.Eligibility),
		PlaceholderBallotLink:   s.ballotLink,
		PlaceholderRegisterLink: s.registerLink,
	}

	return s.placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := s.placeholderPattern.FindStringSubmatch(match)[1]
		if value, exists := fieldMap[name]; exists {
			return value
		}
		return match
	})
}

// ExtractPlaceholders returns all placeholder names found in body, in order of appearance
func (s *templateService) ExtractPlaceholders(body string) []string {
	matches := s.placeholderPattern.FindAllStringSubmatch(body, -1)
	placeholders := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) > 1 {
			placeholders = append(placeholders, match[1])
		}
	}

	return placeholders
}

// UnknownPlaceholders returns the distinct placeholder names Render will not substitute
func (s *templateService) UnknownPlaceholders(body string) []string {
	known := map[string]bool{
		PlaceholderFirstName:    true,
		PlaceholderLastName:     true,
		PlaceholderEligibility:  true,
		PlaceholderBallotLink:   true,
		PlaceholderRegisterLink: true,
	}

	var unknown []string
	seen := map[string]bool{}
	for _, name := range s.ExtractPlaceholders(body) {
		if known[name] || seen[name] {
			continue
		}
		seen[name] = true
		unknown = append(unknown, name)
	}
	return unknown
}
