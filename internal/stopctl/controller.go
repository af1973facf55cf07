// Package stopctl implements the hierarchical stop controller: a forest of
// plan IDs with per-plan cancellation flags and propagation across
// parent/child edges.
//
// Cancellation is level-triggered. The controller records intent and
// notifies callbacks; it never interrupts running work. Executing loops
// poll IsStopped.
package stopctl

import (
	"sync"

	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
)

// StopCallback is invoked exactly once when a plan's flag transitions from
// active to stopped. Callbacks run synchronously on the stopping goroutine
// and must not block.
type StopCallback func()

type planState struct {
	stopped   bool
	parent    string
	children  map[string]struct{}
	callbacks []StopCallback
}

// Controller owns the plan forest. All state lives behind one mutex per
// instance; there are no package-level registries. Stop propagation is a
// breadth-first collect under the lock followed by callback dispatch after
// release, so the lock is never held across subscriber code and never
// acquired recursively.
type Controller struct {
	mu    sync.Mutex
	plans map[string]*planState
	log   aegislog.Logger
}

// New creates an empty controller. Panics on a nil logger.
func New(log aegislog.Logger) *Controller {
	if log == nil {
		panic("stop controller requires a non-nil logger")
	}
	return &Controller{
		plans: make(map[string]*planState),
		log:   log.With("component", "StopController"),
	}
}

// Register creates ACTIVE state for the plan and records the parent edge if
// given. Registering an existing ID is a no-op: the callback list must not
// be duplicated.
func (c *Controller) Register(planID, parentID string) error {
	if planID == "" {
		return aegiserrors.NewValidationError("plan ID cannot be empty", nil)
	}
	if parentID == planID {
		return aegiserrors.NewValidationError("plan cannot be its own parent", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.plans[planID]; exists {
		c.log.Debugf("Plan '%s' already registered, ignoring", planID)
		return nil
	}

	state := &planState{children: make(map[string]struct{})}
	if parentID != "" {
		parent, ok := c.plans[parentID]
		if !ok {
			c.log.Warnf("Parent plan '%s' not registered, treating '%s' as a root", parentID, planID)
		} else {
			state.parent = parentID
			parent.children[planID] = struct{}{}
		}
	}
	c.plans[planID] = state
	return nil
}

// AddStopCallback appends a callback; the plan must be registered.
func (c *Controller) AddStopCallback(planID string, fn StopCallback) error {
	if fn == nil {
		return aegiserrors.NewValidationError("stop callback cannot be nil", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.plans[planID]
	if !ok {
		return aegiserrors.NewPlanNotRegisteredError(planID)
	}
	state.callbacks = append(state.callbacks, fn)
	return nil
}

// RequestStop transitions the plan to stopped. With propagateDown it also
// stops every direct and indirect child; with propagateUp it additionally
// stops the direct parent without descending into the parent's other
// subtrees. It returns the IDs that actually transitioned, in traversal
// order.
func (c *Controller) RequestStop(planID string, propagateDown, propagateUp bool) ([]string, error) {
	c.mu.Lock()
	if _, ok := c.plans[planID]; !ok {
		c.mu.Unlock()
		return nil, aegiserrors.NewPlanNotRegisteredError(planID)
	}

	// Collect the affected set breadth-first while holding the lock, then
	// release before firing callbacks. This sidesteps the classic deadlock
	// of re-acquiring a non-reentrant lock while recursing into children.
	affected := []string{planID}
	if propagateDown {
		queue := []string{planID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for child := range c.plans[current].children {
				affected = append(affected, child)
				queue = append(queue, child)
			}
		}
	}
	if propagateUp {
		if parent := c.plans[planID].parent; parent != "" {
			if _, ok := c.plans[parent]; ok {
				affected = append(affected, parent)
			}
		}
	}

	var stopped []string
	var pending []StopCallback
	for _, id := range affected {
		state := c.plans[id]
		if state.stopped {
			continue
		}
		state.stopped = true
		stopped = append(stopped, id)
		pending = append(pending, state.callbacks...)
	}
	c.mu.Unlock()

	for _, fn := range pending {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Errorf("Stop callback panicked: %v", aegiserrors.NewCallbackPanicError("StopController", r))
				}
			}()
			fn()
		}()
	}

	if len(stopped) > 0 {
		c.log.Infof("Stop requested for plan '%s', %d plan(s) stopped", planID, len(stopped))
	}
	return stopped, nil
}

// IsStopped reports the plan's cancellation flag. Unregistered plans report
// false.
func (c *Controller) IsStopped(planID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.plans[planID]
	return ok && state.stopped
}

// Reset explicitly returns a stopped plan to ACTIVE. This is the only way a
// set flag is ever cleared.
func (c *Controller) Reset(planID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.plans[planID]
	if !ok {
		return aegiserrors.NewPlanNotRegisteredError(planID)
	}
	state.stopped = false
	return nil
}

// Cleanup removes the plan from the forest: its node, its edge in its
// parent's child set, and its role as parent of any children (which become
// roots). A later re-registration starts from a clean slate.
func (c *Controller) Cleanup(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.plans[planID]
	if !ok {
		return
	}
	if state.parent != "" {
		if parent, ok := c.plans[state.parent]; ok {
			delete(parent.children, planID)
		}
	}
	for child := range state.children {
		if childState, ok := c.plans[child]; ok {
			childState.parent = ""
		}
	}
	delete(c.plans, planID)
}

// RegisteredPlanIDs returns every registered plan ID, for bulk stop
// operations and summary counts.
func (c *Controller) RegisteredPlanIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of registered plans whose flag is not set.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, state := range c.plans {
		if !state.stopped {
			count++
		}
	}
	return count
}
