// Command vsite browses bundled static sites without a server.
//
// A bundle is an HTML document (or bare blob) carrying a compressed file
// tree. vsite decodes it and shows its pages in goja sandboxes, with links,
// forms, scripts, styles and images resolved against the bundled files.
//
// Commands:
//   - ls:      list the bundled files
//   - extract: write the files and a file_tree manifest to a directory
//   - open:    load one page, optionally click through, print the document
//   - serve:   browse headlessly behind the inspection API
//
// Configuration:
//   - Environment variables (see internal/config), read after .env
//   - Flags override the environment where both exist
//
// Usage:
//
//	vsite open site.html docs/index.html --click 'a.next'
//	vsite serve site.html --port 8000 --debug
//
// Signals:
//   - SIGINT, SIGTERM: serve shuts down gracefully
package main
