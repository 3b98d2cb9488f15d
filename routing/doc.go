/*
Package routing decides which origin answers a request.

# Resolution

1. Requests to the API, to rewritten static asset paths and to the favicon
skip the content node lookup.

2. Otherwise the node matching the request path is looked up. When no node
matches, the path is checked for the route prefix of a block version. A
matching prefix routes the request to the base URI of that block version.
API paths of tenants that are not allowed to use the gateway for the API are
routed directly to the API host of the tenant. Anything else is not found.

3. A node matching only an ancestor of the request path is used only when
its renderer is a partial match root, or its proxy allows partial matches.
The proxy of a node is ignored for partial matches when it does not allow
them.

4. The directory returns the endpoint facts of the node. Block endpoints get
a route prefix, derived from the project and the block version, and the
original path of the request as the originPath query parameter, unless the
block version routes full URIs, in which case the original path is
forwarded as is.

5. The node and entry ids are forwarded as query parameters only for nodes
published before the configured cutoff.

A record without a target always has the kind NotFound. Failures of the
collaborators other than not found are returned as *LookupError.

# Request Context

The tenant, the site type, the IIS fallback facts and the version pins of
a request are read once into a RequestContext, which is passed down to
every resolution, including the nested ones for pagelets and layouts.
*/
package routing
