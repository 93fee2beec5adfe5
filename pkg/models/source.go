package models

import "strings"

// Source identifies the ingestion channel that produced an item.
type Source string

const (
	SourceMQ      Source = "MQ"
	SourceHTTPAPI Source = "HTTP_API"
	SourceFile    Source = "FILE"
	SourceUnknown Source = "UNKNOWN"
)

func (s Source) String() string { return string(s) }

func (s Source) IsValid() bool {
	switch s {
	case SourceMQ, SourceHTTPAPI, SourceFile, SourceUnknown:
		return true
	}
	return false
}

// ParseSource accepts the enum names case-insensitively plus the HTTP and REST aliases.
func ParseSource(value string) (Source, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "MQ":
		return SourceMQ, true
	case "HTTP_API", "HTTP", "REST":
		return SourceHTTPAPI, true
	case "FILE":
		return SourceFile, true
	case "UNKNOWN":
		return SourceUnknown, true
	default:
		return SourceUnknown, false
	}
}
