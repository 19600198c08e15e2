package optipass

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxBudgetLevels caps a sweep so a typo in the count cannot queue
// thousands of optimizer runs.
const maxBudgetLevels = 10000

// BudgetSpec describes a budget sweep: Count increments of Delta starting
// at Start, Count+1 levels in total.
type BudgetSpec struct {
	Start int64
	Delta int64
	Count int
}

// Validate checks that the sweep is non-negative and bounded.
func (s BudgetSpec) Validate() error {
	if s.Start < 0 {
		return validationf("budget start must be non-negative, got %d", s.Start)
	}
	if s.Delta < 0 {
		return validationf("budget increment must be non-negative, got %d", s.Delta)
	}
	if s.Count < 0 {
		return validationf("budget count must be non-negative, got %d", s.Count)
	}
	if s.Count > 0 && s.Delta == 0 {
		return validationf("budget increment must be positive when count is %d", s.Count)
	}
	if s.Count >= maxBudgetLevels {
		return validationf("too many budget levels: count %d (max %d levels)", s.Count, maxBudgetLevels)
	}
	if s.Delta > 0 && int64(s.Count) > (math.MaxInt64-s.Start)/s.Delta {
		return validationf("budget sweep %s overflows the largest budget", s)
	}
	return nil
}

// Levels returns the budget amounts in ascending order, starting with Start.
func (s BudgetSpec) Levels() []int64 {
	levels := make([]int64, 0, s.Count+1)
	for i := 0; i <= s.Count; i++ {
		levels = append(levels, s.Start+int64(i)*s.Delta)
	}
	return levels
}

func (s BudgetSpec) String() string {
	return fmt.Sprintf("%d:%d:%d", s.Start, s.Delta, s.Count)
}

// ParseBudgetSpec parses a "start:delta:count" string into a BudgetSpec.
func ParseBudgetSpec(v string) (BudgetSpec, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return BudgetSpec{}, validationf("invalid budget format %q: expected start:delta:count", v)
	}

	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return BudgetSpec{}, validationf("invalid budget start %q: %v", parts[0], err)
	}
	delta, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return BudgetSpec{}, validationf("invalid budget increment %q: %v", parts[1], err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return BudgetSpec{}, validationf("invalid budget count %q: %v", parts[2], err)
	}

	spec := BudgetSpec{Start: start, Delta: delta, Count: count}
	if err := spec.Validate(); err != nil {
		return BudgetSpec{}, err
	}
	return spec, nil
}
