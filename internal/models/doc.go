// package models defines the data model for the sync engine: the server
// event union, the full-state snapshot, and the locally persisted records
// with their sync lifecycle.
//
// Records authored on this device (likes, settings, listening events) carry
// a [SyncStatus] and move through pending_sync → syncing → synced, or land
// in sync_error on a terminal failure. Playlists carry the separate
// [PlaylistSyncStatus] because their pending states distinguish a creation
// from an update.
package models
