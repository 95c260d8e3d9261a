/*
Package api serves a running controller over HTTP.

It is an inspection surface for tests, scripts and debugging: it reads the
session state, lists and downloads the site's files, drives navigations and
clicks, renders the page on display and streams controller events over a
websocket at /events.

Endpoints:

	GET  /health          liveness and current sandbox
	GET  /state           controller snapshot
	GET  /files?match=    file list, optionally filtered by a glob
	GET  /files/*path     one file as a download
	POST /navigate        {"ref"} or {"path","getParameters","anchor"}
	POST /back, /forward  history traversal
	GET  /page            current document
	POST /click, /submit  {"selector"}
	POST /key             {"key","ctrl"}
	GET  /events          websocket event stream
	GET  /metrics         Prometheus metrics
*/
package api
