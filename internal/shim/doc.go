/*
Package shim makes page scripts believe they run on a real web server.

Pages of the virtual site call fetch, read query strings with URLSearchParams,
rewrite the address with history.replaceState and load data with jQuery.ajax.
None of that works inside a sandbox without a server, so the Layer answers
those calls from the virtual file tree and from the simulated navigation state:

  - Fetch: virtual URLs become synthetic responses built from the stored file;
    everything else goes to the Platform unchanged.
  - Params: URLSearchParams.get falls back to the simulated query string when
    the sandbox's own location has none and the instance is empty.
  - Ajax: virtual URLs are answered synchronously with the file's text.
  - QueryString: what jQuery.getQueryParameters should parse by default.

The Layer holds no VM state. The sandbox package binds it into the JavaScript
runtime in a single place.
*/
package shim
