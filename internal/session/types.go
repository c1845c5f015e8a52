package session

// Profiles name the per-call-type configurations a call can run under.
const (
	ProfileInbound  = "inbound"
	ProfileFeedback = "feedback"
)

// OutboundCallRequest asks the service to place a feedback call.
type OutboundCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// OutboundCallResponse reports the provider call placed for an outbound request.
type OutboundCallResponse struct {
	CallSID     string `json:"call_sid"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}
