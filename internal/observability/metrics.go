package observability

// Instrument keys registered by prometrics.Standard.
const (
	// use_case, outcome (success | rejected | error)
	MUsecaseRequests MetricKey = "usecase_requests_total"
	// use_case
	MUsecaseDuration MetricKey = "usecase_duration_seconds"

	// method, route, status
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"

	// peer (outbox | notifier), endpoint (event name), outcome
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	// path (cod | cart | stripe), stage (precheck | commit)
	MStockInsufficient MetricKey = "stock_insufficient_total"
)
