// Package ui implements a terminal dashboard for the sync engine using
// bubbletea's Elm architecture.
//
// The [Model] implements the standard Init/Update/View pattern. It polls
// a snapshot function on a fixed cadence and renders the transport
// state, the sync cursor, and the depth of each pending-write queue,
// with the queue contents browsable in a [list.Model].
//
// Keyboard navigation uses vim-style bindings (j/k, r to refresh, q to
// quit) with contextual help via charmbracelet/bubbles/help.
package ui
