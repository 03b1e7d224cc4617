package entity

// Request and response bodies shared by the authority API and its client.

type PricingRequest struct {
	Lines []LineRequest `json:"lines"`
}

type PricingResponse struct {
	Results []PricingResult `json:"results"`
}

type CartRequest struct {
	Lines []LineRequest `json:"lines"`
}

type SubmitRequest struct {
	SessionID string `json:"session_id"`
}

type ConfirmRequest struct {
	Edits []ItemEdit `json:"edits,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// TransitionResult answers route, reject and cancel.
type TransitionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   Order  `json:"order"`
}

// ErrorResponse is the body of every non-2xx answer. Code is the error kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Stage string `json:"stage,omitempty"`
}
