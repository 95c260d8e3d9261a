/*
Package rewrite makes a page of the virtual site self-contained.

Every external reference in a document is either satisfied from the virtual
file tree or rewired so that it cannot leave the sandbox by accident.

# Steps

Run applies five steps, in order:

 1. script[src]                  inline the file, drop src, keep other attributes
 2. link[rel=stylesheet][href]   replace with a <style> element
 3. img[src]                     replace src with a data: URI
 4. a[href]                      route virtual links through virtualClick
 5. form[action]                 route virtual GET forms through virtualClick

Each step touches only virtual references, tolerates missing elements and
is idempotent: running the pipeline on its own output changes nothing.
A failure to embed one element is logged and recorded in Result.Failures;
the element keeps its original markup and the rest of the page proceeds.

Retrievals for steps 1-3 run concurrently; the document is mutated afterwards
in document order, so the output does not depend on reply order.

# Dynamic content

ApplyDynamic re-applies steps 3-5 to subtrees inserted by scripts after the
page was loaded. Script and stylesheet inlining are not repeated there.
*/
package rewrite
