// Package core implements the mailbox protocol: the entry model, the expiry
// and partition rules, the Session that owns one poll cycle against a
// revisioned document store, and the Router that dispatches pending requests
// to handlers. Store adapters depend on this package; core does not depend on
// any concrete backend.
package core
