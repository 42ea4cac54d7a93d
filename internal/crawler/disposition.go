package crawler

import "net/http"

// Disposition is what the crawl does with a response, decided purely by
// its status code.
type Disposition int

const (
	// Pass hands the response to the extraction rules.
	Pass Disposition = iota
	// NotFound ends the URL and tells the user it is invalid.
	NotFound
	// ServerError ends the URL and tells the user the site failed.
	ServerError
	// RateLimited means the transport already retried; the response is
	// logged and skipped.
	RateLimited
	// Ignored covers every other status.
	Ignored
)

func (d Disposition) String() string {
	switch d {
	case Pass:
		return "success"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case RateLimited:
		return "rate_limited"
	default:
		return "ignored"
	}
}

// Classify maps an HTTP status to its disposition.
func Classify(status int) Disposition {
	switch {
	case status >= 200 && status < 300:
		return Pass
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusInternalServerError:
		return ServerError
	case status == http.StatusTooManyRequests:
		return RateLimited
	default:
		return Ignored
	}
}
