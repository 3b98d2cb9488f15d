/*
Package logging implements application log instrumentation and the
gateway access log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
package level functions. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level, to switch
to JSON, and to set a common prefix for each log entry. Setting the prefix
may be a good idea when the access log is enabled and its output is the
same as the one of the application log, to make it easier to split the
output for diagnostics.

# Access Log

The access log prints one line per request: the client, the request
line, the status, the response size, the duration in milliseconds, the
requested host, and then the request id, tenant alias and route kind set by
the gateway with SetRequestInfo and SetRouteKind. Missing values are
printed as a dash. To output entries, use LogAccess, or wrap a handler with
NewHandler.

During initialization, it is possible to redirect the access log output
from the default /dev/stderr to another file, to log in JSON, or to
completely disable the access log.
*/
package logging
