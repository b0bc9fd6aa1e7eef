// Package sync implements the client side of the multi-device sync
// protocol: the cursor-driven catch-up/full-sync manager, the generic
// offline-write synchronizer loops that drain pending local writes, and
// the grouped download notifier.
package sync
