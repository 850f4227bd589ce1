// Package identity carries a student's identity through a QR code: the
// payload encoder, the code renderer, and the decoder that resolves scanned
// payloads against the roster.
package identity

import (
	"encoding/json"
	"errors"
	"strings"

	"mealdash/internal/roster"
)

// Payload is the JSON document carried inside a student card code. Name and
// Status are copies taken at encode time and may be stale; a resolved scan
// always reports the roster's current record instead.
type Payload struct {
	StudentID  string `json:"studentId"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// ErrMalformedPayload is returned when scanned text is not a payload.
var ErrMalformedPayload = errors.New("identity: malformed payload")

// Encoder builds payloads from roster records. When ProfileBase is set the
// payload also links to the student's profile page under it.
type Encoder struct {
	ProfileBase string
}

// Encode serializes the identity subset of rec. It never fails for a
// record that passes Validate.
func (e Encoder) Encode(rec roster.StudentRecord) []byte {
	p := Payload{
		StudentID: rec.ID,
		Name:      rec.Name,
		Status:    string(rec.HealthStatus),
	}
	if e.ProfileBase != "" {
		p.ProfileURL = strings.TrimRight(e.ProfileBase, "/") + "/" + rec.ID
	}
	data, _ := json.Marshal(p)
	return data
}

// Encode uses an Encoder without profile links.
func Encode(rec roster.StudentRecord) []byte {
	return Encoder{}.Encode(rec)
}

// ParsePayload parses scanned text. Anything that is not a JSON object with a
// non-empty string studentId is malformed.
func ParsePayload(text []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(text, &p); err != nil {
		return Payload{}, errors.Join(ErrMalformedPayload, err)
	}
	p.StudentID = strings.TrimSpace(p.StudentID)
	if p.StudentID == "" {
		return Payload{}, errors.Join(ErrMalformedPayload, errors.New("studentId missing"))
	}
	return p, nil
}
