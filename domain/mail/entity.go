package mail

// SendOptions describes a single outbound message. From is optional and
// falls back to the configured sender address.
type SendOptions struct {
	From    string
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// SendResult reports the outcome of a send attempt
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}
