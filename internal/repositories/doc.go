// package repositories provides the durable stores behind the sync engine:
// the cursor with its settings/permissions cache, the liked-content and
// playlist collections, and the listening-event queue.
//
// Each store owns its tables exclusively; other components mutate them only
// through the owning store's methods. Methods that apply server events are
// idempotent (set, never toggle) so a crash mid-catch-up can safely replay
// events after the last durably-advanced cursor.
package repositories
