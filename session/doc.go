// Package session implements the tenant-scoped data-access facade,
// providing automatic query scoping and a single-tenant unit-of-work model.
//
// Core concepts:
//
//   - Session: A tenant-bound unit of work over one exclusively held
//     connection. Every read is rewritten to the acting tenant and every
//     write is stamped or contained. Opened via Factory.Open (context-bound
//     tenant) or Factory.OpenResolved (identity collaborator).
//
//   - OverrideSession: Controlled scoping bypass via Factory.OpenOverride or
//     RunWithOverride (closure, preferred). All override operations are
//     audited, reads included.
//
//   - Transactions: RunInTransaction carries the transaction in the context;
//     nested calls join the outer transaction. Mutations and their audit
//     entries commit or roll back together.
//
// Usage rules:
//
//  1. Never share a Session across goroutines; open one per unit of work.
//  2. Always Close a session, including on error paths.
//  3. Prefer RunWithOverride closures to limit how far the capability spreads.
//  4. All override reasons must be stable strings for audit aggregation.
//  5. A predicate matching a foreign tenant's rows affects zero rows; treat
//     zero as "nothing to do", not as an error.
package session
