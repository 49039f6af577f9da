package testutil

import "sync/atomic"

// FlagInterrupter is an upload.Interrupter a test can fire on demand.
type FlagInterrupter struct {
	reason atomic.Value // string
}

// NewFlagInterrupter returns an interrupter that never fires until Fire is
// called.
func NewFlagInterrupter() *FlagInterrupter {
	f := &FlagInterrupter{}
	f.reason.Store("")
	return f
}

// Reason implements upload.Interrupter.
func (f *FlagInterrupter) Reason() string {
	r, _ := f.reason.Load().(string)
	return r
}

// Fire sets the interruption reason, causing Reason to return it from here
// on.
func (f *FlagInterrupter) Fire(reason string) {
	f.reason.Store(reason)
}
