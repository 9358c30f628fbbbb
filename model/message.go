package model

// Email represents a single raw message handed to the analyzer.
type Email struct {
	ID     string
	Source string
	Raw    []byte
}

// Envelope wraps an email alongside an optional error encountered while reading it.
type Envelope struct {
	Email Email
	Err   error
}

// Row is one line of the result table.
type Row struct {
	ID  string
	ICO string
}
