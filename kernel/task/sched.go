package task

// Block implements task_block for the common case of blocking the
// current task on its own cond var. This uses a real condition
// variable rather than a busy-wait loop; the observable contract is
// unchanged: the task does not run again until task_unblock flips it
// back to READY. An Unblock that lands before the task has actually
// parked is remembered via wakePending, so the wakeup is never lost
// to that ordering.
func (t *Task) Block() {
	t.mu.Lock()
	if t.wakePending {
		t.wakePending = false
		t.mu.Unlock()
		return
	}
	t.state = Blocking
	for t.state == Blocking {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// Unblock implements task_unblock: stash reason in Status, transition
// to READY, and wake anyone waiting in Block. If the target has not
// parked yet, the wakeup is recorded instead of broadcast into the
// void.
func (t *Task) Unblock(reason int32) {
	t.mu.Lock()
	t.Status = reason
	if t.state == Blocking {
		t.state = Ready
		t.cond.Broadcast()
	} else {
		t.wakePending = true
	}
	t.mu.Unlock()
}

// Search implements task_search: the lowest-jiffies task in the
// requested state owned by cpu, excluding exclude; if none and state
// is READY, falls back to that CPU's idle task.
func (tb *Table) Search(state State, cpu uint32, exclude int32) *Task {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	var best *Task
	for _, t := range tb.tasks {
		if t == nil || t.PID == exclude || t.CPUID != cpu {
			continue
		}
		if t.State() != state {
			continue
		}
		if best == nil || t.Jiffies < best.Jiffies {
			best = t
		}
	}
	if best == nil && state == Ready && int(cpu) < len(tb.idle) {
		return tb.idle[cpu]
	}
	return best
}

// Yield delegates to the arch layer.
func (tb *Table) Yield() {
	tb.Layer.Pause()
}
