// Package extract pulls best-effort structured fields out of CDM payloads.
//
// Extraction is total: malformed input never produces an error, only fewer fields.
// Problems worth logging are reported in Fields.Issues.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Fields holds whatever could be extracted. Nil pointers mean "not found".
type Fields struct {
	MessageID            *string
	CreationDateTime     *time.Time
	NumberOfTransactions *int
	EnrichmentStatus     *string
	ProcessingStatus     *string

	Issues []string
}

func (f Fields) Empty() bool {
	return f.MessageID == nil && f.CreationDateTime == nil && f.NumberOfTransactions == nil &&
		f.EnrichmentStatus == nil && f.ProcessingStatus == nil
}

type fieldRule struct {
	name    string
	aliases []string
	apply   func(f *Fields, value interface{}) error
}

var rules = []fieldRule{
	{"messageId", []string{"messageId", "message_id", "MsgId"}, setString(func(f *Fields, v string) { f.MessageID = &v })},
	{"creationDateTime", []string{"creationDateTime", "creation_date_time", "CreDtTm"}, setTime},
	{"numberOfTransactions", []string{"numberOfTransactions", "number_of_transactions", "NbOfTxs"}, setCount},
	{"enrichmentStatus", []string{"enrichmentStatus", "enrichment_status"}, setString(func(f *Fields, v string) { f.EnrichmentStatus = &v })},
	{"processingStatus", []string{"processingStatus", "processing_status"}, setString(func(f *Fields, v string) { f.ProcessingStatus = &v })},
}

// headerKeys are nested objects searched after the top level.
var headerKeys = []string{"groupHeader", "GrpHdr", "header"}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Extract never fails. Non-object or unparseable payloads yield empty Fields.
func Extract(raw string) Fields {
	var fields Fields

	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fields
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var doc map[string]interface{}
	if err := decoder.Decode(&doc); err != nil {
		fields.Issues = append(fields.Issues, fmt.Sprintf("payload is not valid JSON: %v", err))
		return fields
	}
	if _, err := decoder.Token(); err != io.EOF {
		return Fields{Issues: []string{"payload is not valid JSON: unexpected data after document"}}
	}

	scopes := []map[string]interface{}{doc}
	for _, key := range headerKeys {
		if nested, ok := doc[key].(map[string]interface{}); ok {
			scopes = append(scopes, nested)
		}
	}

	for _, rule := range rules {
		value, ok := lookup(scopes, rule.aliases)
		if !ok {
			continue
		}
		if err := rule.apply(&fields, value); err != nil {
			fields.Issues = append(fields.Issues, fmt.Sprintf("%s: %v", rule.name, err))
		}
	}

	return fields
}

func lookup(scopes []map[string]interface{}, aliases []string) (interface{}, bool) {
	for _, scope := range scopes {
		for _, alias := range aliases {
			if value, ok := scope[alias]; ok && value != nil {
				return value, true
			}
		}
	}
	return nil, false
}

func setString(assign func(f *Fields, v string)) func(f *Fields, value interface{}) error {
	return func(f *Fields, value interface{}) error {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return nil
			}
			assign(f, strings.TrimSpace(v))
		case json.Number:
			assign(f, v.String())
		default:
			return fmt.Errorf("unexpected type %T", value)
		}
		return nil
	}
}

func setTime(f *Fields, value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("unexpected type %T", value)
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			f.CreationDateTime = &t
			return nil
		}
	}
	return fmt.Errorf("unparseable date-time %q", s)
}

func setCount(f *Fields, value interface{}) error {
	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return fmt.Errorf("unexpected type %T", value)
	}

	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return fmt.Errorf("not a non-negative integer: %q", text)
	}
	f.NumberOfTransactions = &n
	return nil
}
