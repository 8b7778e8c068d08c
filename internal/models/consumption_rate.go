package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RateUnit is the time unit a consumption period is expressed in.
type RateUnit string

const (
	RateUnitHour  RateUnit = "hour"
	RateUnitDay   RateUnit = "day"
	RateUnitWeek  RateUnit = "week"
	RateUnitMonth RateUnit = "month"
)

// HoursPerMonth is an average month (30.4375 days). Calendar months are not
// modelled, so long month-based windows drift by up to a day per month.
const HoursPerMonth = 730.5

var unitHours = map[RateUnit]float64{
	RateUnitHour:  1,
	RateUnitDay:   24,
	RateUnitWeek:  168,
	RateUnitMonth: HoursPerMonth,
}

// Hours returns the length of one unit in hours, or false for an unknown unit.
func (u RateUnit) Hours() (float64, bool) {
	h, ok := unitHours[u]
	return h, ok
}

// ConsumptionRate says how much of an item is used up every Period units.
type ConsumptionRate struct {
	Amount decimal.Decimal `json:"amount"`
	Period int             `json:"period"`
	Unit   RateUnit        `json:"unit"`
}

// Validate reports ErrMalformedRate for rates the engine must not apply.
func (r ConsumptionRate) Validate() error {
	if !r.Amount.IsPositive() {
		return errors.Wrapf(ErrMalformedRate, "amount %s must be positive", r.Amount.String())
	}
	if r.Period <= 0 {
		return errors.Wrapf(ErrMalformedRate, "period %d must be positive", r.Period)
	}
	if _, ok := r.Unit.Hours(); !ok {
		return errors.Wrapf(ErrMalformedRate, "unknown unit %q", r.Unit)
	}
	return nil
}

// PeriodHours is the length of one consumption period in hours.
func (r ConsumptionRate) PeriodHours() float64 {
	h, _ := r.Unit.Hours()
	return float64(r.Period) * h
}

func (r ConsumptionRate) String() string {
	if r.Period == 1 {
		return fmt.Sprintf("%s/%s", r.Amount.String(), r.Unit)
	}
	return fmt.Sprintf("%s every %d %ss", r.Amount.String(), r.Period, r.Unit)
}

// rawRate is the loosest object shape accepted at the boundary.
type rawRate struct {
	Amount json.RawMessage `json:"amount"`
	Period json.RawMessage `json:"period"`
	Unit   string          `json:"unit"`
}

var rateTextPattern = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s*(?:/|per|every)\s*(?:([0-9]+)\s*)?([a-zA-Z]+)\s*$`)

// ParseConsumptionRate turns loosely typed input into a validated rate. It
// accepts a JSON object {"amount", "period", "unit"} whose numbers may also be
// strings, or a JSON string such as "2/day", "1 per week" or "3 every 2 days".
// An empty value or JSON null yields (nil, nil): the item does not deplete.
func ParseConsumptionRate(raw json.RawMessage) (*ConsumptionRate, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return parseRateText(text)
	}

	var obj rawRate
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Wrap(ErrMalformedRate, err.Error())
	}

	amount, err := parseLooseDecimal(obj.Amount)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRate, "amount: %v", err)
	}

	period := 1
	if len(obj.Period) > 0 && string(obj.Period) != "null" {
		p, err := parseLooseDecimal(obj.Period)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRate, "period: %v", err)
		}
		if !p.IsInteger() {
			return nil, errors.Wrapf(ErrMalformedRate, "period %s is not a whole number", p.String())
		}
		period = int(p.IntPart())
	}

	rate := &ConsumptionRate{Amount: amount, Period: period, Unit: normalizeUnit(obj.Unit)}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return rate, nil
}

func parseRateText(text string) (*ConsumptionRate, error) {
	m := rateTextPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, errors.Wrapf(ErrMalformedRate, "cannot parse %q", text)
	}

	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRate, "amount: %v", err)
	}
	period := 1
	if m[2] != "" {
		period, err = strconv.Atoi(m[2])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRate, "period: %v", err)
		}
	}

	rate := &ConsumptionRate{Amount: amount, Period: period, Unit: normalizeUnit(m[3])}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return rate, nil
}

func parseLooseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	return decimal.NewFromString(string(raw))
}

func normalizeUnit(u string) RateUnit {
	u = strings.ToLower(strings.TrimSpace(u))
	switch u {
	case "h", "hr", "hrs", "hours":
		u = "hour"
	case "d", "days", "daily":
		u = "day"
	case "w", "wk", "weeks", "weekly":
		u = "week"
	case "mo", "months", "monthly":
		u = "month"
	}
	return RateUnit(u)
}
