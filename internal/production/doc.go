// Package production coordinates cache misses. Each fingerprint is
// produced at most once at a time; concurrent callers join the in-flight
// production and all observe its outcome. A primary outage is retried
// once on the fallback provider before the result is committed to the
// store.
package production
