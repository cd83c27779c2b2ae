package adapters

import "strings"

// apiErrorClass is the coarse classification of a provider error.
type apiErrorClass struct {
	kind       string
	statusCode int
	retryable  bool
}

// classifyAPIError maps a gollm error onto a kind and a retry decision by
// inspecting its message; gollm does not expose typed provider errors.
func classifyAPIError(err error) apiErrorClass {
	if err == nil {
		return apiErrorClass{}
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid key") || strings.Contains(msg, "invalid api key"):
		return apiErrorClass{kind: "authentication", statusCode: 401}
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		return apiErrorClass{kind: "access_denied", statusCode: 403}
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return apiErrorClass{kind: "not_found", statusCode: 404}
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return apiErrorClass{kind: "rate_limit", statusCode: 429, retryable: true}
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		return apiErrorClass{kind: "context_length", statusCode: 413}
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server"):
		return apiErrorClass{kind: "server", statusCode: 500, retryable: true}
	case strings.Contains(msg, "timeout"):
		return apiErrorClass{kind: "timeout", retryable: true}
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "safety"):
		return apiErrorClass{kind: "content_filter"}
	default:
		// Unknown errors default to retryable.
		return apiErrorClass{kind: "provider", retryable: true}
	}
}
