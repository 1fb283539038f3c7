package dashboard

import (
	"time"

	"fleet-dashboard/internal/clock"
)

// taskKey names a periodic task: the owning component plus the session or
// selection generation it was started for.
type taskKey struct {
	component string
	scope     uint64
}

type scheduledTask struct {
	key   taskKey
	timer *clock.Timer
}

// scheduler keeps at most one periodic task per component. It is only
// touched from the loop goroutine; timer callbacks hop back onto the loop
// through post and check that their task is still the registered one, so a
// tick that races a cancel is dropped.
type scheduler struct {
	clock clock.Clock
	post  func(func()) bool
	tasks map[string]*scheduledTask
}

func newScheduler(c clock.Clock, post func(func()) bool) *scheduler {
	return &scheduler{clock: c, post: post, tasks: make(map[string]*scheduledTask)}
}

// every replaces the component's task with one that runs fn each interval.
// The first run is one interval from now.
func (s *scheduler) every(key taskKey, interval time.Duration, fn func()) {
	s.cancel(key.component)
	t := &scheduledTask{key: key}
	s.tasks[key.component] = t
	s.arm(t, interval, fn)
}

func (s *scheduler) arm(t *scheduledTask, interval time.Duration, fn func()) {
	t.timer = s.clock.AfterFunc(interval, func() {
		s.post(func() {
			if s.tasks[t.key.component] != t {
				return
			}
			fn()
			if s.tasks[t.key.component] == t {
				s.arm(t, interval, fn)
			}
		})
	})
}

func (s *scheduler) cancel(component string) {
	t, ok := s.tasks[component]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(s.tasks, component)
}

func (s *scheduler) cancelAll() {
	for component := range s.tasks {
		s.cancel(component)
	}
}

func (s *scheduler) active(component string) (taskKey, bool) {
	t, ok := s.tasks[component]
	if !ok {
		return taskKey{}, false
	}
	return t.key, true
}
