package types

// Mailbox is a selectable mailbox as exposed to the browser client
type Mailbox struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Delimiter  string   `json:"delimiter"`
	Attributes []string `json:"attributes"`
}

// MessageSummary is the truncated view of one message shown in the list
type MessageSummary struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Preview string `json:"preview"`
}
