// Package trustlog provides an embedded tamper-evident audit log for
// Go services. Entries are hash-chained: each one commits to its
// predecessor, so any after-the-fact modification, deletion or
// reordering of history is detectable by Verify.
//
// Usage:
//
//	log, err := trustlog.New(trustlog.WithSQLite("/var/lib/app/audit.db"))
//	defer log.Close()
//
//	entry, err := log.Append(ctx, trustlog.Event{
//	    Type:    "config_change",
//	    Actor:   "admin-7",
//	    Outcome: "success",
//	})
//
//	result, err := log.Verify(ctx, trustlog.VerifyRange{})
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/trustlog/sdk/go/trustlog.
package trustlog
