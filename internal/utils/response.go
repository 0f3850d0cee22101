package utils

// Envelope is the JSON wrapper for envelope-style API responses, so
// clients can branch on OK without parsing status codes.
type Envelope struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func SuccessResponse(message string, data interface{}) Envelope {
	return Envelope{
		OK:      true,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(message, detail string) Envelope {
	return Envelope{
		Message: message,
		Error:   detail,
	}
}
