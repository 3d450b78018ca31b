package headers

/*
Entity header names this plugin reads or injects. Name comparison against
response-level header sets is case-insensitive: https://datatracker.ietf.org/doc/html/rfc9110#section-5.1
*/

const (
	ContentLength      string = "Content-Length"
	ContentType        string = "Content-Type"
	ContentDisposition string = "Content-Disposition"
)
