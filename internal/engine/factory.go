package engine

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/aybkose/questline/internal/task"
)

// AssignByKey assigns the configured template for a type key. Falls back
// to empty params when no template exists, which only works for types
// whose constructors need none.
func (e *Engine) AssignByKey(userID int64, key task.TypeKey) (*task.Instance, error) {
	for _, tpl := range e.config().Tasks.Templates {
		if tpl.Type == string(key) {
			return e.Assign(userID, key, task.Params(tpl.Params))
		}
	}
	return e.Assign(userID, key, task.Params{})
}

// AssignRandom assigns one template from the configured pool, chosen at
// random among those the user is currently eligible for. Conflicts,
// cooldowns, and disabled types narrow the pool; the daily limit ends it.
func (e *Engine) AssignRandom(userID int64) (*task.Instance, error) {
	templates := e.config().Tasks.Templates
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no task templates configured", ErrDefinitionNotFound)
	}

	order := rand.Perm(len(templates))
	var lastErr error
	for _, i := range order {
		tpl := templates[i]
		inst, err := e.Assign(userID, task.TypeKey(tpl.Type), task.Params(tpl.Params))
		if err == nil {
			return inst, nil
		}
		if errors.Is(err, ErrDailyLimit) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no eligible task for user %d: %w", userID, lastErr)
}
