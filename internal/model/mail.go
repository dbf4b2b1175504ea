package model

// EmailMessage is an outbound message produced by the auth flows. Body carries
// the single-use secret, so it must never be logged.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"-"`
	Kind    string `json:"kind"`
	UserID  string `json:"user_id"`
}
