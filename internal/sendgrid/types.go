package sendgrid

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// flexString accepts a JSON string, number, or bool. Objects, arrays and
// null decode to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case 't', 'f':
		*f = flexString(b)
	case 'n', '{', '[':
		*f = ""
	default:
		*f = flexString(b)
	}
	return nil
}

// flexTime accepts epoch seconds as a number (integer or fractional) or a
// numeric string. Anything else decodes to the zero time.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return nil
	}
	if s == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return nil
	}
	*f = flexTime(time.Unix(int64(secs), 0).UTC())
	return nil
}

// rawEvent is one element of a delivery as SendGrid sends it. Custom args
// (communication_id, user_id) are flattened into the event by the provider.
type rawEvent struct {
	Event                   flexString `json:"event"`
	Email                   flexString `json:"email"`
	Timestamp               flexTime   `json:"timestamp"`
	SGEventID               flexString `json:"sg_event_id"`
	SGMessageID             flexString `json:"sg_message_id"`
	CommunicationID         flexString `json:"communication_id"`
	InternalCommunicationID flexString `json:"internal_communication_id"`
	UserID                  flexString `json:"user_id"`

	Response flexString `json:"response"`
	Attempt  flexString `json:"attempt"`

	URL       flexString `json:"url"`
	UserAgent flexString `json:"useragent"`
	IP        flexString `json:"ip"`

	Reason               flexString `json:"reason"`
	Status               flexString `json:"status"`
	Type                 flexString `json:"type"`
	BounceClassification flexString `json:"bounce_classification"`

	ASMGroupID flexString `json:"asm_group_id"`

	To      flexString `json:"to"`
	From    flexString `json:"from"`
	Subject flexString `json:"subject"`
	Text    flexString `json:"text"`
	HTML    flexString `json:"html"`
}
