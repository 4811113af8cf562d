package reliability

// ErrorKind labels broker failures for metrics and logs: configuration
// problems, upstream rejections, malformed input and everything else.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindUpstream   ErrorKind = "upstream"
	KindBadInput   ErrorKind = "bad_input"
	KindUnexpected ErrorKind = "unexpected"
)

// StatusClass groups an HTTP status code for low-cardinality metric labels.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// IsClientFault reports whether an upstream status blames the request rather
// than the vendor. Client faults are never worth a compat fallback beyond the
// one documented metadata case.
func IsClientFault(code int) bool {
	return code >= 400 && code < 500
}

// ClassifyUpstream labels a non-2xx upstream response: 4xx counts against the
// request that was forwarded, everything else against the vendor.
func ClassifyUpstream(code int) ErrorKind {
	if IsClientFault(code) {
		return KindBadInput
	}
	return KindUpstream
}
