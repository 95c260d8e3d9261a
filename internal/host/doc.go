// Package host is the outer context of a browsing session. It owns the
// virtual file store, the navigation history and the chrome, answers file
// requests from sandboxes, and swaps one sandbox for the next on every
// virtual navigation.
package host
