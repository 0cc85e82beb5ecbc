// Package scheduler provides the deferred-work service used by timesyncd:
// recurring cron jobs (e.g. a forced nightly resync) and one-shot jobs armed
// at absolute wall-clock deadlines.
//
// One-shot deadlines are wall-clock values. When the sync service steps the
// system clock it reports the signed delta to ShiftDeadlines, which moves
// every pending deadline by the same amount so the work still happens after
// the originally intended wait. The underlying timers count monotonic time
// and are left untouched; only the stored wall deadlines follow the step.
package scheduler
