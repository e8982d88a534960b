package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// recordID accepts the identifier under "id" or the database-native "_id", as a string
// or a number. Older backend builds returned only "_id" for created communications.
type recordID struct {
	ID       json.RawMessage `json:"id"`
	NativeID json.RawMessage `json:"_id"`
}

func (r recordID) value() (string, error) {
	for _, raw := range []json.RawMessage{r.ID, r.NativeID} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), nil
		}
		return "", fmt.Errorf("unsupported id value %s", string(raw))
	}
	return "", nil
}

type memberDTO struct {
	recordID
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Phone          string `json:"phone"`
	Eligibility    string `json:"eligibility"`
	Status         string `json:"status"`
	DaysDelinquent int    `json:"daysDelinquent"`
}

func (d memberDTO) toModel() (*models.Member, error) {
	id, err := d.value()
	if err != nil {
		return nil, err
	}
	return &models.Member{
		ID:             id,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Phone:          d.Phone,
		Eligibility:    models.Eligibility(strings.ToUpper(d.Eligibility)),
		Status:         models.DuesStatus(strings.ToUpper(d.Status)),
		DaysDelinquent: d.DaysDelinquent,
	}, nil
}

type memberListDTO struct {
	Data       []memberDTO   `json:"data"`
	Pagination paginationDTO `json:"pagination"`
}

type paginationDTO struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type statsDTO struct {
	Total       int `json:"total"`
	Eligible    int `json:"eligible"`
	Delinquency struct {
		Days0To30  int `json:"0-30"`
		Days31To60 int `json:"31-60"`
		Days61To90 int `json:"61-90"`
		Days90Plus int `json:"90+"`
	} `json:"delinquency"`
}

func (d statsDTO) toModel() *models.MemberStats {
	return &models.MemberStats{
		Total:    d.Total,
		Eligible: d.Eligible,
		Delinquency: models.DelinquencyBuckets{
			Days0To30:  d.Delinquency.Days0To30,
			Days31To60: d.Delinquency.Days31To60,
			Days61To90: d.Delinquency.Days61To90,
			Days90Plus: d.Delinquency.Days90Plus,
		},
	}
}

type campaignDTO struct {
	recordID
	Name           string     `json:"name"`
	Body           string     `json:"body"`
	Audience       string     `json:"audience"`
	CustomAudience []string   `json:"customAudience,omitempty"`
	Status         string     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (d campaignDTO) toModel() (*models.Campaign, error) {
	id, err := d.value()
	if err != nil {
		return nil, err
	}
	return &models.Campaign{
		ID:             id,
		Name:           d.Name,
		Body:           d.Body,
		Audience:       models.AudienceSelector(d.Audience),
		CustomAudience: d.CustomAudience,
		Status:         strings.ToUpper(d.Status),
		ScheduledAt:    d.ScheduledAt,
		CreatedAt:      d.CreatedAt,
	}, nil
}

type campaignListDTO struct {
	Data       []campaignDTO `json:"data"`
	Pagination paginationDTO `json:"pagination"`
}

type createCampaignDTO struct {
	Name           string   `json:"name"`
	Body           string   `json:"body"`
	Audience       string   `json:"audience"`
	CustomAudience []string `json:"customAudience,omitempty"`
	Channel        string   `json:"channel"`
}

type scheduleDTO struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

type errorDTO struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func (d errorDTO) text() string {
	if d.Message != "" {
		return d.Message
	}
	switch e := d.Error.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}
