// Package policy recommends which item type a session should be served next.
// Everything here is pure: no I/O and no mutation of its inputs.
package policy

import (
	"slices"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

const (
	// PolicyEngine asks ChooseNextType for a recommendation on every serve.
	PolicyEngine = "engine"
	// PolicySimple rotates to the next type after Threshold serves.
	PolicySimple = "simple"

	// DefaultThreshold is the serve streak that triggers a rotation.
	DefaultThreshold = 3
)

// Options configures the type recommendation.
type Options struct {
	// Strict enables rotation; otherwise the last type is simply continued.
	Strict bool
	// Threshold is the streak length after which strict mode rotates.
	Threshold int
}

// EffectiveThreshold returns the threshold, falling back to DefaultThreshold
// for values below 1.
func (o Options) EffectiveThreshold() int {
	return Threshold(o.Threshold)
}

// Threshold clamps n to a usable rotation threshold.
func Threshold(n int) int {
	if n < 1 {
		return DefaultThreshold
	}
	return n
}

// ResolveName picks the policy in effect: the explicit name when given,
// otherwise the process default. "" means unscoped.
func ResolveName(explicit, fallback string) string {
	if name := strings.ToLower(strings.TrimSpace(explicit)); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(fallback))
}

// TypeOrder returns the sorted set of distinct normalized types.
func TypeOrder(types []string) []string {
	order := make([]string, 0, len(types))
	for _, t := range types {
		if n := domain.NormalizeType(t); n != "" {
			order = append(order, n)
		}
	}
	slices.Sort(order)
	return slices.Compact(order)
}

// NextTypeInOrder returns the type following current in the sorted order of
// types, wrapping around. When current is not present the first type is
// returned; "" when there are no types at all.
func NextTypeInOrder(types []string, current string) string {
	order := TypeOrder(types)
	if len(order) == 0 {
		return ""
	}
	idx := slices.Index(order, domain.NormalizeType(current))
	if idx < 0 {
		return order[0]
	}
	return order[(idx+1)%len(order)]
}

// ChooseNextType recommends the next type to serve. Outside strict mode it
// returns the normalized last type unchanged. In strict mode, once the streak
// reaches the threshold, it returns the cyclic successor of the last type.
// It returns "" when no types are available.
func ChooseNextType(available []string, lastType string, servesInCurrentType int, opts Options) string {
	last := domain.NormalizeType(lastType)
	if len(TypeOrder(available)) == 0 {
		return ""
	}
	if opts.Strict && servesInCurrentType >= opts.EffectiveThreshold() {
		return NextTypeInOrder(available, last)
	}
	return last
}
