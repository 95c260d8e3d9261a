/*
Package sandbox runs one page of the virtual site in isolation.

# Overview

An Adapter holds a parsed document, a goja VM for the page's scripts and the
content end of a protocol pipe. It shares no memory with the host: files,
context and navigation all travel as messages.

# Lifecycle

	booting -> awaiting_context -> rewriting -> ready -> interactive -> disposed

On launch the adapter posts "ready". When the host answers with
"setContext", the document is rewritten (utility scripts injected, virtual
scripts, stylesheets and images embedded, links and forms rewired) and its
scripts run in document order. The adapter then reports the title and
favicon with "set_title". "scrollToAnchor" moves to the anchor of the
navigation and makes the page interactive.

# Threading

All VM and DOM access happens on the Runtime's loop goroutine. File replies
are delivered from the listener goroutine, so a script waiting on a
retrieval never blocks the reply that would wake it.

# Browser surface

The DOM bridge covers the document and element APIs typical static-site
scripts use. Server-dependent APIs (fetch, URLSearchParams, history,
jQuery.ajax and jQuery.getQueryParameters) are bound to a shim.Layer in
shims.go and nowhere else.
*/
package sandbox
