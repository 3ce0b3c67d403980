// Package httppost delivers gate commands to a webhook.
//
// Every command envelope is POSTed as JSON. Transport failures, 429 and 5xx responses
// are retried with exponential backoff up to RetryCount times; any other non-2xx
// response fails immediately. The final error is returned to the dispatcher, which
// counts it; the gate never sees it.
//
// Client TLS (extra CA files, client certificates) is configured through Config.TLS.
package httppost
