package loyalty

import (
	"fmt"
	"math"
	"time"

	"github.com/richxcame/store-loyalty/pkg/config"
)

// CampaignMode selects how an event date is matched against the campaign anchor
type CampaignMode string

const (
	// CampaignWeekday matches when the event falls in the anchor's calendar month and
	// its weekday index is within Days of the anchor's weekday index.
	CampaignWeekday CampaignMode = "weekday"
	// CampaignElapsed matches when the event is within Days calendar days after the anchor.
	CampaignElapsed CampaignMode = "elapsed"
)

// CampaignWindow is the time-boxed date bonus campaign
type CampaignWindow struct {
	Anchor time.Time
	Days   int
	Mode   CampaignMode
}

// Contains reports whether eventDate earns the date bonus
func (w CampaignWindow) Contains(eventDate time.Time) bool {
	if w.Days <= 0 {
		return false
	}
	event := eventDate.In(w.Anchor.Location())

	switch w.Mode {
	case CampaignElapsed:
		ay, am, ad := w.Anchor.Date()
		ey, em, ed := event.Date()
		anchorDay := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
		eventDay := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
		days := int(eventDay.Sub(anchorDay).Hours() / 24)
		return days >= 0 && days < w.Days
	default:
		if event.Year() != w.Anchor.Year() || event.Month() != w.Anchor.Month() {
			return false
		}
		diff := int(event.Weekday()) - int(w.Anchor.Weekday())
		if diff < 0 {
			diff = -diff
		}
		return diff < w.Days
	}
}

// AccrualPolicy computes points for a purchase. It never touches storage.
type AccrualPolicy struct {
	IncomeMultiplier int64
	CodeBonus        int64
	DateBonus        int64
	Campaign         CampaignWindow
}

// Accrual is the breakdown of a computed points delta
type Accrual struct {
	Base        int64
	CodeBonus   int64
	DateBonus   int64
	CodeMatched bool
}

// Total is the points delta to apply
func (a Accrual) Total() int64 {
	return a.Base + a.CodeBonus + a.DateBonus
}

// NewAccrualPolicy builds the policy from configuration
func NewAccrualPolicy(cfg config.LoyaltyConfig) AccrualPolicy {
	return AccrualPolicy{
		IncomeMultiplier: int64(cfg.IncomeMultiplier),
		CodeBonus:        int64(cfg.CodeBonus),
		DateBonus:        int64(cfg.DateBonus),
		Campaign: CampaignWindow{
			Anchor: cfg.CampaignAnchor,
			Days:   cfg.CampaignDays,
			Mode:   CampaignMode(cfg.CampaignMode),
		},
	}
}

// Compute returns the points earned for income. A submitted code equal to currentCode
// earns the code bonus and sets CodeMatched; the caller must rotate the code exactly once.
// Otherwise an event date inside the campaign earns the date bonus. The two bonuses are
// exclusive. currentCode is nil when the store has no active code.
func (p AccrualPolicy) Compute(income float64, submitted *int, eventDate *time.Time, currentCode *int) (Accrual, error) {
	base, err := p.basePoints(income)
	if err != nil {
		return Accrual{}, err
	}

	acc := Accrual{Base: base}
	switch {
	case submitted != nil && currentCode != nil && *submitted == *currentCode:
		acc.CodeBonus = p.CodeBonus
		acc.CodeMatched = true
	case eventDate != nil && p.Campaign.Contains(*eventDate):
		acc.DateBonus = p.DateBonus
	}
	return acc, nil
}

func (p AccrualPolicy) basePoints(income float64) (int64, error) {
	if math.IsNaN(income) || math.IsInf(income, 0) {
		return 0, fmt.Errorf("%w: income must be a finite number", ErrInvalidArgument)
	}
	if income < 0 {
		return 0, fmt.Errorf("%w: income must not be negative", ErrInvalidArgument)
	}
	points := math.Floor(income * float64(p.IncomeMultiplier))
	if points > float64(math.MaxInt64/2) {
		return 0, fmt.Errorf("%w: income is too large", ErrInvalidArgument)
	}
	return int64(points), nil
}

// ParseEventDate accepts an RFC3339 timestamp or a YYYY-MM-DD date. Empty or
// unparsable input yields nil, which simply means no date bonus.
func ParseEventDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}
