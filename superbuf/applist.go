package superbuf

import "sync/atomic"

// appList is the hand-off from process context to the polling context.
// Any number of goroutines may push; only the poller takes. Rxqs are
// linked through their next field, which nothing else touches.
type appList struct {
	head atomic.Pointer[Rxq]
}

func (l *appList) push(app *Rxq) {
	for {
		next := l.head.Load()
		app.next = next
		if l.head.CompareAndSwap(next, app) {
			return
		}
	}
}

// takeAll detaches the whole list and returns it oldest first.
func (l *appList) takeAll() *Rxq {
	var prev *Rxq

	for app := l.head.Swap(nil); app != nil; {
		next := app.next
		app.next = prev
		prev = app
		app = next
	}

	return prev
}
