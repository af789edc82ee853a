package domain

import (
	"strings"
	"time"
)

// Plan is a billing tier. Unknown values are treated as unlimited.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// UnlimitedAllotment marks tiers without a conversion cap.
const UnlimitedAllotment = -1

var planTable = map[Plan]struct {
	rank      int
	allotment int
}{
	PlanFree:       {rank: 0, allotment: 1},
	PlanBasic:      {rank: 1, allotment: 20},
	PlanPro:        {rank: 2, allotment: 50},
	PlanPremium:    {rank: 3, allotment: 200},
	PlanEnterprise: {rank: 4, allotment: UnlimitedAllotment},
}

func ParsePlan(value string) Plan {
	return Plan(strings.ToLower(strings.TrimSpace(value)))
}

func (p Plan) Known() bool {
	_, ok := planTable[p]
	return ok
}

// Rank orders tiers for upgrade comparisons; unknown tiers rank -1.
func (p Plan) Rank() int {
	entry, ok := planTable[p]
	if !ok {
		return -1
	}
	return entry.rank
}

// Allotment is the number of conversions granted when the tier is purchased.
func (p Plan) Allotment() int {
	entry, ok := planTable[p]
	if !ok {
		return UnlimitedAllotment
	}
	return entry.allotment
}

func (p Plan) IsPaid() bool {
	return p == PlanBasic || p == PlanPro || p == PlanPremium
}

func (p Plan) Unlimited() bool {
	return p.Allotment() == UnlimitedAllotment
}

// User holds the account fields the conversion pipeline reads and writes.
type User struct {
	ID              string
	Email           string
	Name            string
	Plan            Plan
	ConversionsLeft int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
