package classify

import (
	"errors"
	"strings"

	"github.com/echonote/echonote/internal/store"
)

// ErrNoActiveTemplates is returned by Match when no active templates exist.
var ErrNoActiveTemplates = errors.New("classify: no active templates")

// Match resolves the best output template for a classification result.
//
// Resolution order: an active template named after the category wins
// outright; otherwise all active templates are scored by how many of their
// triggers occur in the classification reason (case-insensitive substring
// match, ties broken by priority) and a positive top scorer wins; otherwise
// the default template; otherwise the highest-priority active template.
func Match(result Result, templates []store.Template) (store.Template, error) {
	active := make([]store.Template, 0, len(templates))
	for _, t := range templates {
		if t.IsActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return store.Template{}, ErrNoActiveTemplates
	}

	// Step 1: direct name match.
	var named []store.Template
	for _, t := range active {
		if strings.EqualFold(t.Name, result.Category) {
			named = append(named, t)
		}
	}
	if len(named) == 1 {
		return named[0], nil
	}
	if len(named) > 1 {
		return best(named, result.Reason), nil
	}

	// Step 2: trigger scoring across all active templates.
	top := best(active, result.Reason)
	if triggerScore(top, result.Reason) > 0 {
		return top, nil
	}

	// Step 3: default template.
	for _, t := range active {
		if t.IsDefault {
			return t, nil
		}
	}

	// Step 4: highest-priority active template.
	fallback := active[0]
	for _, t := range active[1:] {
		if t.Priority > fallback.Priority {
			fallback = t
		}
	}
	return fallback, nil
}

// best returns the template with the lexicographically highest
// (trigger score, priority) pair.
func best(templates []store.Template, reason string) store.Template {
	top := templates[0]
	topScore := triggerScore(top, reason)
	for _, t := range templates[1:] {
		score := triggerScore(t, reason)
		if score > topScore || (score == topScore && t.Priority > top.Priority) {
			top, topScore = t, score
		}
	}
	return top
}

// triggerScore counts the template's triggers occurring in reason,
// case-insensitively.
func triggerScore(t store.Template, reason string) int {
	lower := strings.ToLower(reason)
	score := 0
	for _, trigger := range t.Triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(trigger)) {
			score++
		}
	}
	return score
}
